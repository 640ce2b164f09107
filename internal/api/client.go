package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when no daemon API is configured.
var ErrUnavailable = errors.New("daemon API unavailable")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon API returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon API returned status %d: %s", e.Code, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// ListQuery filters GET /api/activity.
type ListQuery struct {
	ActorID      string
	Action       string
	ResourceType string
	FailedOnly   bool
	Limit        int
}

// NewClient builds a client for bind ("host:port" or a URL). It returns nil
// when bind is empty.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SubmitActivity posts one activity.
func (c *Client) SubmitActivity(ctx context.Context, req ActivityRequest) (ActivityAccepted, error) {
	var out ActivityAccepted
	err := c.do(ctx, http.MethodPost, "/api/activity", nil, req, &out)
	return out, err
}

// ListActivity returns recent persisted activity, newest first.
func (c *Client) ListActivity(ctx context.Context, q ListQuery) ([]ActivityRecord, error) {
	values := url.Values{}
	if strings.TrimSpace(q.ActorID) != "" {
		values.Set("actor", q.ActorID)
	}
	if strings.TrimSpace(q.Action) != "" {
		values.Set("action", q.Action)
	}
	if strings.TrimSpace(q.ResourceType) != "" {
		values.Set("resource", q.ResourceType)
	}
	if q.FailedOnly {
		values.Set("failed", "1")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var out ActivityListResponse
	if err := c.do(ctx, http.MethodGet, "/api/activity", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Flush asks the daemon to flush one batch now.
func (c *Client) Flush(ctx context.Context) (FlushResponse, error) {
	var out FlushResponse
	err := c.do(ctx, http.MethodPost, "/api/flush", nil, nil, &out)
	return out, err
}

// Status returns queue and storage status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}
