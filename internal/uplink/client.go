package uplink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultSendTimeout  = 5 * time.Second
	DefaultBatchTimeout = 30 * time.Second

	scanPath      = "/scan"
	scanBatchPath = "/scan/batch"
	healthPath    = "/health"
	tokenDBPath   = "/tokens.json"
)

// SendOutcome classifies one submission attempt.
type SendOutcome struct {
	// Accepted is true for any 2xx, and for 409: the orchestrator already
	// holds the scan, so a duplicate is a delivery success.
	Accepted bool
	// StatusCode is the HTTP status, or 0 on a transport failure.
	StatusCode int
	// Err carries the transport error when StatusCode is 0.
	Err error
}

// Failed reports a transport-level failure (no HTTP response at all).
func (o SendOutcome) Failed() bool { return o.StatusCode == 0 }

// Client talks to the orchestrator. All three operations go through one
// request-construction path so timeout, headers, and transport selection
// are configured in exactly one place.
type Client struct {
	baseURL      string
	deviceID     string
	sendTimeout  time.Duration
	batchTimeout time.Duration
	httpClient   *http.Client
	logger       Logger
}

// ClientOptions tune a Client. Zero values select the reference constants.
type ClientOptions struct {
	SendTimeout  time.Duration
	BatchTimeout time.Duration
	// InsecureSkipVerify disables certificate validation for https bases.
	// Lab orchestrators run with self-signed certificates on the local
	// network.
	InsecureSkipVerify bool
	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client
	Logger     Logger
}

func NewClient(baseURL, deviceID string, opts ClientOptions) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrInvalidInput
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Transport: transport}
	}
	return &Client{
		baseURL:      baseURL,
		deviceID:     strings.TrimSpace(deviceID),
		sendTimeout:  opts.SendTimeout,
		batchTimeout: opts.BatchTimeout,
		httpClient:   httpClient,
		logger:       opts.Logger,
	}, nil
}

// SendOne submits a single scan. One request, no internal retries: the
// caller sits on the foreground path and must not wait past the timeout.
func (c *Client) SendOne(ctx context.Context, event ScanEvent) SendOutcome {
	if !event.Valid() {
		return SendOutcome{Err: ErrInvalidInput}
	}
	status, _, err := c.do(ctx, http.MethodPost, scanPath, event, c.sendTimeout)
	return classify(status, err)
}

// SendBatch submits up to the batch limit of scans in one request. The
// upstream contract is all-or-nothing: any non-2xx leaves the whole batch
// queued for the next cycle.
func (c *Client) SendBatch(ctx context.Context, events []ScanEvent) SendOutcome {
	if len(events) == 0 {
		return SendOutcome{Accepted: true, StatusCode: http.StatusOK}
	}
	body := struct {
		Events []ScanEvent `json:"events"`
	}{Events: events}
	status, _, err := c.do(ctx, http.MethodPost, scanBatchPath, body, c.batchTimeout)
	if err != nil {
		return SendOutcome{Err: err}
	}
	// 409 is not a batch-level success: the endpoint reports nothing about
	// which records collided, so the batch stays queued.
	return SendOutcome{Accepted: status >= 200 && status <= 299, StatusCode: status}
}

// Probe checks service liveness. The device identity rides along as a query
// parameter for upstream presence tracking.
func (c *Client) Probe(ctx context.Context) bool {
	path := healthPath
	if c.deviceID != "" {
		path += "?deviceId=" + url.QueryEscape(c.deviceID)
	}
	status, _, err := c.do(ctx, http.MethodGet, path, nil, c.sendTimeout)
	return err == nil && status >= 200 && status <= 299
}

// FetchTokenDatabase downloads the token metadata database published by the
// orchestrator.
func (c *Client) FetchTokenDatabase(ctx context.Context) ([]byte, error) {
	status, payload, err := c.do(ctx, http.MethodGet, tokenDBPath, nil, c.batchTimeout)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("token database fetch: http %d", status)
	}
	return payload, nil
}

// do is the consolidated request path.
func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		bodyReader = bytes.NewReader(payload)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, nil, readErr
	}
	return resp.StatusCode, payload, nil
}

func classify(status int, err error) SendOutcome {
	if err != nil {
		return SendOutcome{Err: err}
	}
	if (status >= 200 && status <= 299) || status == http.StatusConflict {
		return SendOutcome{Accepted: true, StatusCode: status}
	}
	return SendOutcome{StatusCode: status}
}
