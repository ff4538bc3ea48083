package uplink

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// QueueFactory builds an EventQueue for one DSN scheme.
type QueueFactory func(dsn string, opts FileQueueOptions) (EventQueue, error)

var queueFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]QueueFactory
}{
	factories: map[string]QueueFactory{},
}

// RegisterQueueFactory installs a backend for a DSN scheme, overriding the
// built-in selection for that scheme.
func RegisterQueueFactory(scheme string, factory QueueFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	queueFactoryRegistry.mu.Lock()
	defer queueFactoryRegistry.mu.Unlock()
	queueFactoryRegistry.factories[scheme] = factory
}

func lookupQueueFactory(scheme string) (QueueFactory, bool) {
	queueFactoryRegistry.mu.RLock()
	defer queueFactoryRegistry.mu.RUnlock()
	factory, ok := queueFactoryRegistry.factories[strings.ToLower(strings.TrimSpace(scheme))]
	return factory, ok
}

// BuildEventQueue selects a queue backend by DSN scheme. A bare path or a
// file: DSN yields the on-device file queue; memory: and postgres: exist
// for tests and hosted runs.
func BuildEventQueue(dsn string, opts FileQueueOptions) (EventQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupQueueFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileQueue(path, opts)
	case "memory", "mem", "inmem":
		return NewMemoryQueue(opts.Capacity), nil
	case "postgres", "postgresql":
		return NewPostgresQueue(dsn, opts.Capacity)
	case "redis", "rediss", "nats", "sqs":
		return nil, fmt.Errorf("%w: queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
