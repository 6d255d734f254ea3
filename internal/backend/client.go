// Package backend is the HTTP client for the external analysis service that
// stages files, lists cloud storage and runs PII detection.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "http://localhost:8001"

// maxResponseBytes bounds any single backend response body.
const maxResponseBytes = 64 << 20

var (
	ErrTransport        = errors.New("analysis backend unreachable")
	ErrBackendStatus    = errors.New("analysis backend reported failure")
	ErrMalformedPayload = errors.New("malformed backend payload")
)

// StatusError is a failure reported by the backend, either through an HTTP
// error status or a non-success status field.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("backend status %d: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return ErrBackendStatus
}

// Client talks to the analysis backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout for calls other than Analyze,
// whose lifetime is bound by its context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// formBuilder accumulates a multipart request body.
type formBuilder struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *formBuilder {
	f := &formBuilder{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *formBuilder) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *formBuilder) jsonField(name string, v any) {
	if f.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		f.err = fmt.Errorf("encoding %s: %w", name, err)
		return
	}
	f.err = f.w.WriteField(name, string(data))
}

func (f *formBuilder) file(field, name string, r io.Reader) {
	if f.err != nil {
		return
	}
	part, err := f.w.CreateFormFile(field, name)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = io.Copy(part, r)
}

func (f *formBuilder) close() (io.Reader, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.w.FormDataContentType(), nil
}

func (c *Client) postForm(ctx context.Context, path string, f *formBuilder, hc *http.Client, out any) error {
	body, contentType, err := f.close()
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	return c.do(ctx, hc, http.MethodPost, path, body, contentType, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}
	return c.do(ctx, c.http, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: reading %s: %v", ErrTransport, path, err)
	}

	c.logger.Debug("backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, path, err)
	}
	return nil
}

// errorMessage extracts the most specific message from an error body:
// detail, detail.message, message, then error.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) < 512 {
			return s
		}
		return fallback
	}

	if len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Detail, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return fallback
}

// envelope is the common shape of backend responses.
type envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Files   []json.RawMessage `json:"files"`
}

func (e *envelope) failed() bool {
	return e.Status != "" && e.Status != "success"
}

func (e *envelope) err(fallback string) error {
	msg := e.Message
	if msg == "" {
		msg = fallback
	}
	return &StatusError{Message: msg}
}

// FileURL is the URL at which the backend serves a produced file.
func (c *Client) FileURL(name string) string {
	return c.baseURL + "/files/" + url.PathEscape(name)
}

// DownloadFile fetches a produced file such as a marked document or an
// extracted spreadsheet.
func (c *Client) DownloadFile(ctx context.Context, name string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(name), nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("%w: downloading %s: %v", ErrTransport, name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: downloading %s: %v", ErrTransport, name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &StatusError{Code: resp.StatusCode, Message: errorMessage(data, "Failed to download "+name)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}
