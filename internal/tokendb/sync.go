package tokendb

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// databaseSchema is the contract for the published file: an object mapping
// token identifiers to media records, nothing else. Unknown record fields
// are rejected so a format change upstream fails loudly instead of being
// silently ignored on devices in the field.
const databaseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "propertyNames": {"minLength": 1},
  "additionalProperties": {
    "type": "object",
    "properties": {
      "video": {"type": "string"},
      "image": {"type": "string"},
      "audio": {"type": "string"},
      "processingImage": {"type": "string"}
    },
    "additionalProperties": false
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(databaseSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("tokens.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("tokens.schema.json")
	})
	return compiledSchema, schemaErr
}

// Fetcher downloads the published database; the HTTP client satisfies it.
type Fetcher interface {
	FetchTokenDatabase(ctx context.Context) ([]byte, error)
}

// Sync downloads the current database, validates it against the schema and
// the size bounds, and installs it. Any failure leaves the previous
// database in place; stale data beats no data on a device that may stay
// offline for hours.
func (s *Store) Sync(ctx context.Context, fetcher Fetcher) (int, error) {
	payload, err := fetcher.FetchTokenDatabase(ctx)
	if err != nil {
		return 0, err
	}
	if err := validatePayload(payload); err != nil {
		return 0, err
	}
	return s.Install(payload)
}

func validatePayload(payload []byte) error {
	if len(payload) > MaxDatabaseBytes {
		return fmt.Errorf("%w: %d bytes", ErrDatabaseTooLarge, len(payload))
	}
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("token database is not valid JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("token database failed schema validation: %w", err)
	}
	return nil
}
