package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mkarpov/foliosync/internal/models"
)

// ErrUnauthorized signals that the server rejected the bearer credential.
var ErrUnauthorized = errors.New("unauthorized")

// ServerError is a non-2xx response from the sync server.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying.
func (e *ServerError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient classifies an error as retriable: network failures and the
// retriable HTTP statuses. Authentication failures are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Credentials supplies the opaque bearer token and clears it on forced logout.
type Credentials interface {
	Token() string
	Clear()
}

// StaticCredentials holds a token in memory.
type StaticCredentials struct {
	token string
}

// NewStaticCredentials wraps a fixed token.
func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{token: token}
}

func (c *StaticCredentials) Token() string { return c.token }
func (c *StaticCredentials) Clear()        { c.token = "" }

// Transport is the network collaborator of the orchestrator.
type Transport interface {
	Upload(ctx context.Context, req models.UploadRequest) (*models.SyncResponse, error)
	Download(ctx context.Context) (*models.SyncResponse, error)
	Status(ctx context.Context) (*models.SyncStatus, error)
}

// HTTPTransport talks to the sync server's REST endpoints.
type HTTPTransport struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

// NewHTTPTransport creates a transport for baseURL using creds for bearer auth.
func NewHTTPTransport(baseURL string, creds Credentials) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Upload(ctx context.Context, req models.UploadRequest) (*models.SyncResponse, error) {
	var resp models.SyncResponse
	if err := t.do(ctx, http.MethodPost, "/api/sync/upload", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Download(ctx context.Context) (*models.SyncResponse, error) {
	var resp models.SyncResponse
	if err := t.do(ctx, http.MethodGet, "/api/sync/download", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Status(ctx context.Context) (*models.SyncStatus, error) {
	var status models.SyncStatus
	if err := t.do(ctx, http.MethodGet, "/api/sync/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.creds.Token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		msg := payload.Error
		if msg == "" {
			msg = payload.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
