package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ipoddock/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrAPIUnavailable means no daemon answered at the configured address.
var ErrAPIUnavailable = errors.New("daemon api unavailable")

// ErrConflict marks a 409 response, returned while a sync session is running
// or the player is busy.
var ErrConflict = errors.New("conflict")

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	Code    int
	Message string
	Kind    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("daemon api: %s", e.Message)
}

// Is maps HTTP status codes onto the error taxonomy.
func (e *StatusError) Is(target error) bool {
	switch target {
	case services.ErrNotFound:
		return e.Code == http.StatusNotFound
	case services.ErrValidation:
		return e.Code == http.StatusBadRequest || e.Code == http.StatusRequestEntityTooLarge
	case ErrConflict:
		return e.Code == http.StatusConflict
	case services.ErrDeviceNotFound:
		return e.Code == http.StatusServiceUnavailable
	}
	return false
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// NewClient builds a client for a daemon bound at bind (host:port). Wildcard
// hosts are dialled on loopback.
func NewClient(bind, token string, httpClient *http.Client) (*Client, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return nil, fmt.Errorf("api client: parse bind %q: %w", bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL: &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)},
		token:   strings.TrimSpace(token),
		http:    httpClient,
	}, nil
}

// NewClientForURL builds a client against an explicit base URL.
func NewClientForURL(base, token string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("api client: parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, token: strings.TrimSpace(token), http: httpClient}, nil
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &out)
	return out, err
}

// ListQueue returns pending items.
func (c *Client) ListQueue(ctx context.Context) ([]QueueItem, error) {
	var out QueueListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Upload streams a local file to the daemon queue.
func (c *Client) Upload(ctx context.Context, path string, opts UploadOptions) (QueueItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return QueueItem{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, filepath.Base(path), file, opts))
	}()

	var out QueueItemResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue", pr, form.FormDataContentType(), &out); err != nil {
		_ = pr.CloseWithError(err)
		return QueueItem{}, err
	}
	return out.Item, nil
}

func writeUploadForm(form *multipart.Writer, name string, body io.Reader, opts UploadOptions) error {
	fields := map[string]string{
		"category": opts.Category,
		"playlist": opts.Playlist,
		"title":    opts.Metadata.Title,
		"artist":   opts.Metadata.Artist,
		"album":    opts.Metadata.Album,
		"genre":    opts.Metadata.Genre,
	}
	if opts.Metadata.TrackNumber > 0 {
		fields["track_number"] = strconv.Itoa(opts.Metadata.TrackNumber)
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return form.Close()
}

// EnqueueDelete queues removal of a device track.
func (c *Client) EnqueueDelete(ctx context.Context, trackID string) (QueueItem, error) {
	body, err := json.Marshal(DeleteRequest{TrackID: trackID})
	if err != nil {
		return QueueItem{}, err
	}
	var out QueueItemResponse
	err = c.do(ctx, http.MethodPost, "/api/queue/delete", bytes.NewReader(body), "application/json", &out)
	return out.Item, err
}

// Remove drops one pending item.
func (c *Client) Remove(ctx context.Context, id string) (bool, error) {
	var out RemoveResponse
	err := c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, "", &out)
	return out.Removed, err
}

// Clear drops every pending item.
func (c *Client) Clear(ctx context.Context) (int64, error) {
	var out ClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/queue", nil, "", &out)
	return out.Removed, err
}

// Tracks lists what is on the player. The daemon mounts it for the read, so
// this fails while a sync is running or the player is unplugged.
func (c *Client) Tracks(ctx context.Context) ([]Track, error) {
	var out TrackListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tracks", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Tracks, nil
}

// Failures returns the most recent failure log entries.
func (c *Client) Failures(ctx context.Context, limit int) ([]Failure, error) {
	path := "/api/failures"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out FailureListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Failures, nil
}

// ClearFailures empties the failure log.
func (c *Client) ClearFailures(ctx context.Context) (int64, error) {
	var out ClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/failures", nil, "", &out)
	return out.Removed, err
}

// Health returns queue database diagnostics.
func (c *Client) Health(ctx context.Context) (DatabaseHealth, error) {
	var out DatabaseHealth
	err := c.do(ctx, http.MethodGet, "/api/queue/health", nil, "", &out)
	return out, err
}

// Sync triggers a session. With wait the call blocks until it finishes.
func (c *Client) Sync(ctx context.Context, wait bool) (SyncResponse, error) {
	path := "/api/sync"
	if wait {
		path += "?wait=1"
	}
	var out SyncResponse
	err := c.do(ctx, http.MethodPost, path, nil, "", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	target, err := c.baseURL.Parse(path)
	if err != nil {
		return fmt.Errorf("api client: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("api client: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if unavailable(err) {
			return fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
		}
		return fmt.Errorf("api client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) != nil {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error, Kind: payload.Kind}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api client: decode %s: %w", path, err)
	}
	return nil
}

func unavailable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
