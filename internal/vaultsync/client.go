package vaultsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

const feedReadLimit = 8 << 20

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RemoteEntry is a buffer entry as served by the buffer API.
type RemoteEntry struct {
	Key       string        `json:"key"`
	ID        string        `json:"id"`
	ExpiresAt time.Time     `json:"exp"`
	Data      provider.Note `json:"data"`
}

type BufferResponse struct {
	Entries []RemoteEntry `json:"entries"`
}

// FeedEvent is one delivery of the buffer feed. Err reports a lost or
// failed connection; the feed keeps reconnecting after it.
type FeedEvent struct {
	Entries []RemoteEntry
	Err     error
}

type RemoteClient interface {
	FetchBuffer(ctx context.Context) ([]RemoteEntry, error)
	Consume(ctx context.Context, noteID string) error
	Subscribe(ctx context.Context) <-chan FeedEvent
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (c *HTTPClient) FetchBuffer(ctx context.Context) ([]RemoteEntry, error) {
	var out BufferResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/buffer", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *HTTPClient) Consume(ctx context.Context, noteID string) error {
	body := map[string]string{"id": noteID}
	return c.doJSON(ctx, http.MethodPost, "/v1/buffer/consume", body, nil)
}

// Subscribe streams buffer snapshots from the websocket feed, reconnecting
// with backoff. A reader that falls behind only receives the newest
// snapshot. The channel closes when ctx is done.
func (c *HTTPClient) Subscribe(ctx context.Context) <-chan FeedEvent {
	events := make(chan FeedEvent, 1)
	go func() {
		defer close(events)
		retry := backoff.WithContext(c.newBackOff(), ctx)
		for {
			err := c.readFeed(ctx, events, retry.Reset)
			if ctx.Err() != nil {
				return
			}
			deliver(ctx, events, FeedEvent{Err: err})
			delay := retry.NextBackOff()
			if delay == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
	return events
}

func (c *HTTPClient) readFeed(ctx context.Context, events chan FeedEvent, connected func()) error {
	feedURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/buffer/feed"
	conn, _, err := websocket.Dial(ctx, feedURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return fmt.Errorf("dial buffer feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(feedReadLimit)
	connected()
	for {
		var msg BufferResponse
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read buffer feed: %w", err)
		}
		deliver(ctx, events, FeedEvent{Entries: msg.Entries})
	}
}

// deliver replaces any undelivered event with ev.
func deliver(ctx context.Context, events chan FeedEvent, ev FeedEvent) {
	select {
	case <-events:
	default:
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	operation := func() error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return backoff.Permanent(json.Unmarshal(payloadBytes, out))
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return httpErr
		}
		return backoff.Permanent(httpErr)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

func correlationID() string {
	return "sync_" + uuid.NewString()
}
