package authflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoCode means the receiver has not captured an exchange code yet.
	ErrNoCode = errors.New("no exchange code available")
	// ErrCodeExpired means the receiver captured a code but it aged out
	// before it was collected.
	ErrCodeExpired = errors.New("exchange code expired")
)

// ReceiverClient polls the externally hosted postback receiver that the
// broker redirects to after a successful login.
type ReceiverClient struct {
	baseURL string
	http    *http.Client
}

func NewReceiverClient(baseURL string) *ReceiverClient {
	return &ReceiverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchCode asks the receiver for the captured exchange code. 404 maps to
// ErrNoCode, 410 to ErrCodeExpired; any other non-200 is a transient
// transport failure.
func (r *ReceiverClient) FetchCode(ctx context.Context) (string, error) {
	body, status, err := r.get(ctx, "/get_token")
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		code := gjson.GetBytes(body, "request_token").String()
		if code == "" {
			return "", fmt.Errorf("receiver returned 200 without request_token")
		}
		return code, nil
	case http.StatusNotFound:
		return "", ErrNoCode
	case http.StatusGone:
		return "", ErrCodeExpired
	default:
		return "", fmt.Errorf("receiver returned status %d", status)
	}
}

// ClearCode discards any code held by the receiver so a new attempt
// starts clean.
func (r *ReceiverClient) ClearCode(ctx context.Context) error {
	_, status, err := r.get(ctx, "/clear_token")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("clear code returned status %d", status)
	}
	return nil
}

// Health probes the receiver liveness endpoint.
func (r *ReceiverClient) Health(ctx context.Context) error {
	_, status, err := r.get(ctx, "/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("receiver health returned status %d", status)
	}
	return nil
}

func (r *ReceiverClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
