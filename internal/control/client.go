package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// clientBaseURL is the placeholder origin for requests sent over the socket.
const clientBaseURL = "http://control"

// Client talks to a control channel over its Unix socket or alias.
type Client struct {
	path string
	http *http.Client
}

// NewClient creates a client for the channel at path. timeout bounds each
// request; zero means no client-side limit.
func NewClient(path string, timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: probeTimeout * 4}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", path)
		},
		DisableKeepAlives: true,
	}
	return &Client{
		path: path,
		http: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Query sends req and returns the completed response. A completion with a
// status other than success is returned together with ErrChannelDeleted or
// ErrRequestRejected.
func (c *Client) Query(ctx context.Context, req filter.Request) (filter.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return filter.Response{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, clientBaseURL+"/v1/ioctl", bytes.NewReader(body))
	if err != nil {
		return filter.Response{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return filter.Response{}, fmt.Errorf("querying %s: %w", c.path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return filter.Response{}, fmt.Errorf("reading response: %w", err)
	}

	switch res.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusGone:
		var resp filter.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return filter.Response{}, fmt.Errorf("decoding response: %w", err)
		}
		switch resp.Status {
		case filter.StatusSuccess:
			return resp, nil
		case filter.StatusChannelDeleted:
			return resp, ErrChannelDeleted
		default:
			return resp, fmt.Errorf("%w: %s", ErrRequestRejected, resp.Status)
		}
	default:
		return filter.Response{}, decodeError(res.StatusCode, data)
	}
}

// Channel returns the identity and state of the channel.
func (c *Client) Channel(ctx context.Context) (Info, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, clientBaseURL+"/v1/channel", nil)
	if err != nil {
		return Info{}, fmt.Errorf("building request: %w", err)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return Info{}, fmt.Errorf("querying %s: %w", c.path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Info{}, fmt.Errorf("reading response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return Info{}, decodeError(res.StatusCode, data)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decoding channel info: %w", err)
	}
	return info, nil
}

// decodeError maps a transport-level failure body onto a sentinel.
func decodeError(status int, data []byte) error {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("control channel returned HTTP %d", status)
	}
	switch e.Code {
	case ErrCodeQueueFull:
		return ErrQueueFull
	case ErrCodeNotReady:
		return ErrNotReady
	default:
		return fmt.Errorf("control channel returned HTTP %d: %s: %s", status, e.Code, e.Message)
	}
}
