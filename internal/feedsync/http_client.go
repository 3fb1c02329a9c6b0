package feedsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/google/uuid"
)

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

type listResponse struct {
	FeedID  string           `json:"feedId"`
	Entries []timeline.Entry `json:"entries"`
}

// HTTPClient implements Gateway against the relayfeed REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
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
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) List(ctx context.Context, feedID string, scope timeline.Scope) ([]timeline.Entry, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", string(scope))
	}
	var out listResponse
	if err := c.doJSON(ctx, "list", http.MethodGet, entriesPath(feedID)+"?"+q.Encode(), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Entries == nil {
		out.Entries = []timeline.Entry{}
	}
	return out.Entries, nil
}

func (c *HTTPClient) Create(ctx context.Context, feedID string, in CreateInput) (timeline.Entry, error) {
	headers := map[string]string{}
	if in.ClientRef != "" {
		headers["Idempotency-Key"] = in.ClientRef
	}
	var out timeline.Entry
	err := c.doJSON(ctx, "create", http.MethodPost, entriesPath(feedID), headers, in, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, feedID, entryID string, in UpdateInput) (timeline.Entry, error) {
	var out timeline.Entry
	err := c.doJSON(ctx, "update", http.MethodPatch, entryPath(feedID, entryID), nil, in, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, feedID, entryID string) error {
	return c.doJSON(ctx, "delete", http.MethodDelete, entryPath(feedID, entryID), nil, nil, nil)
}

func (c *HTTPClient) Publish(ctx context.Context, feedID, entryID string) (timeline.Entry, error) {
	var out timeline.Entry
	err := c.doJSON(ctx, "publish", http.MethodPost, entryPath(feedID, entryID)+"/publish", nil, nil, &out)
	return out, err
}

func (c *HTTPClient) ToggleSubItem(ctx context.Context, feedID, entryID, subItemID string, completed bool) (timeline.Entry, error) {
	body := map[string]any{"completed": completed}
	var out timeline.Entry
	path := entryPath(feedID, entryID) + "/items/" + url.PathEscape(subItemID)
	err := c.doJSON(ctx, "toggle sub-item", http.MethodPut, path, nil, body, &out)
	return out, err
}

func entriesPath(feedID string) string {
	return fmt.Sprintf("/v1/feeds/%s/entries", url.PathEscape(feedID))
}

func entryPath(feedID, entryID string) string {
	return entriesPath(feedID) + "/" + url.PathEscape(entryID)
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	op, method, requestPath string,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return &timeline.Error{Kind: timeline.ErrValidation, Op: op, Err: err}
		}
	}
	correlation := correlationID()
	// A 5xx or a dropped connection may hide a request the server applied, so
	// only reads and keyed creates are sent again. A 429 was refused before
	// any work was done and is always retried.
	replayable := method == http.MethodGet || headers["Idempotency-Key"] != ""
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return &timeline.Error{Kind: timeline.ErrValidation, Op: op, Err: err}
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlation)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if replayable && attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return &timeline.Error{Kind: timeline.ErrNetwork, Op: op, Err: waitErr}
				}
				continue
			}
			return &timeline.Error{Kind: timeline.ErrNetwork, Op: op, Err: err}
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return &timeline.Error{Kind: timeline.ErrNetwork, Op: op, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			if err := json.Unmarshal(payloadBytes, out); err != nil {
				return &timeline.Error{Kind: timeline.ErrNetwork, Op: op, Message: "malformed response body", Err: err}
			}
			return nil
		}

		retryStatus := resp.StatusCode == http.StatusTooManyRequests ||
			(replayable && resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryStatus && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return &timeline.Error{Kind: timeline.ErrNetwork, Op: op, Err: waitErr}
			}
			continue
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
		return &timeline.Error{Kind: classifyStatus(resp.StatusCode), Op: op, Err: httpErr}
	}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return timeline.ErrUnauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		return timeline.ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return timeline.ErrNetwork
	default:
		return timeline.ErrValidation
	}
}

// StatusCode extracts the HTTP status from an error returned by HTTPClient,
// or 0 when the request never got a response.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func correlationID() string {
	return "feed_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
