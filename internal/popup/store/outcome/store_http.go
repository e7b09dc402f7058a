package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"popupflow/pkg/platform/sentinel"
)

const maxRecordBytes = 4 << 10

// statusError reports an unexpected response. 503 means the server's own
// slot store is down.
func statusError(op string, code int) error {
	if code == http.StatusServiceUnavailable {
		return fmt.Errorf("%s: unexpected status %d: %w", op, code, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: unexpected status %d", op, code)
}

// HTTPStore reaches the pages server slot API. A tab opened without an
// opener reference shares no storage with the initiator, so both sides go
// through the server.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTP returns a store for the server at baseURL. A nil client gets a
// default with a short timeout.
func NewHTTP(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (s *HTTPStore) slotURL(key string, suffix string) string {
	return s.baseURL + "/api/outcome/" + url.PathEscape(key) + suffix
}

// NewSlot asks the server for a fresh slot key. The key travels to the tab
// inside the callback URL.
func (s *HTTPStore) NewSlot(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/outcome", nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create outcome slot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError("create outcome slot", resp.StatusCode)
	}

	var body struct {
		Slot string `json:"slot"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("create outcome slot: %w", err)
	}
	if body.Slot == "" {
		return "", fmt.Errorf("create outcome slot: empty slot key")
	}
	return body.Slot, nil
}

func (s *HTTPStore) Put(ctx context.Context, key, value string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.slotURL(key, ""), strings.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put outcome slot: %v: %w", err, sentinel.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError("put outcome slot", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) Take(ctx context.Context, key string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.slotURL(key, "/take"), nil)
	if err != nil {
		return "", false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("take outcome slot: %v: %w", err, sentinel.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return "", false, nil
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBytes))
		if err != nil {
			return "", false, fmt.Errorf("take outcome slot: %w", err)
		}
		return string(body), true, nil
	default:
		return "", false, statusError("take outcome slot", resp.StatusCode)
	}
}
