// Package transport performs single HTTP calls against the feedback API.
//
// It carries no retry logic and mutates no store; it hands back a RawResult
// for the caller to classify and act on.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feedbackkit/courier/internal/models"
)

// Default client configuration constants.
const (
	// DefaultTimeout bounds connect plus response read for one call.
	DefaultTimeout = 30 * time.Second
	// DefaultAPIVersion is the wire protocol version sent on every request.
	DefaultAPIVersion = 3
	// DefaultUserAgent identifies the SDK to the server.
	DefaultUserAgent = "Courier/1.0 (Go)"
)

// API endpoints.
const (
	EndpointMessages          = "/messages"
	EndpointEvents            = "/events"
	EndpointDevices           = "/devices"
	EndpointPeople            = "/people"
	endpointConversationFetch = "/conversation?count=%s&after_id=%s&before_id=%s"
)

// errAttachmentRead marks a mid-stream failure reading the local attachment.
// The record can never succeed verbatim, so it classifies as a bad payload.
var errAttachmentRead = errors.New("attachment read failed")

// Client performs HTTP calls against the remote feedback service.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	apiVersion int
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithAPIVersion overrides the X-API-Version header value.
func WithAPIVersion(v int) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithUserAgent overrides the User-Agent header value.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a transport client for the given API base URL and
// conversation token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  DefaultUserAgent,
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-API-Version", strconv.Itoa(c.apiVersion))
	req.Header.Set("User-Agent", c.userAgent)
}

// Do performs a single JSON request and returns the raw result.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) *RawResult {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RawResult{Err: fmt.Errorf("build request failed: %w", err)}
	}
	c.setCommonHeaders(req)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	slog.Debug("Client.Do: performing request", "method", method, "path", path)
	return c.execute(req)
}

// SendPayload routes a queued payload to its endpoint and method. Message
// payloads with attachments go out as multipart; device and person records
// are PUTs so repeated delivery is safe.
func (c *Client) SendPayload(ctx context.Context, p models.Payload, files []models.StoredFile) *RawResult {
	switch p.BaseType {
	case models.PayloadBaseTypeMessage:
		if len(files) > 0 {
			return c.PostMessageMultipart(ctx, p.Body, files[0])
		}
		return c.Do(ctx, http.MethodPost, EndpointMessages, p.Body)
	case models.PayloadBaseTypeEvent:
		return c.Do(ctx, http.MethodPost, EndpointEvents, p.Body)
	case models.PayloadBaseTypeDevice:
		return c.Do(ctx, http.MethodPut, EndpointDevices, p.Body)
	case models.PayloadBaseTypePerson:
		return c.Do(ctx, http.MethodPut, EndpointPeople, p.Body)
	default:
		return &RawResult{BadPayload: true, Err: fmt.Errorf("%w: %s", models.ErrInvalidBaseType, p.BaseType)}
	}
}

// PostMessageMultipart sends a message with its attachment as a two-part
// multipart request: a "message" text part with the serialized JSON and a
// "file" part streamed straight from disk, never buffering the whole file.
func (c *Client) PostMessageMultipart(ctx context.Context, messageJSON []byte, file models.StoredFile) *RawResult {
	f, err := os.Open(file.LocalCachePath)
	if err != nil {
		slog.Error("Client.PostMessageMultipart: cannot open attachment", "path", file.LocalCachePath, "error", err)
		return &RawResult{BadPayload: true, Err: fmt.Errorf("open attachment failed: %w", err)}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	// A fresh random boundary per request.
	if err := mw.SetBoundary(uuid.NewString()); err != nil {
		f.Close()
		return &RawResult{BadPayload: true, Err: fmt.Errorf("set boundary failed: %w", err)}
	}

	go func() {
		defer f.Close()
		err := writeMultipartBody(mw, messageJSON, file, f)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointMessages, pr)
	if err != nil {
		return &RawResult{Err: fmt.Errorf("build multipart request failed: %w", err)}
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	slog.Debug("Client.PostMessageMultipart: performing request", "path", EndpointMessages, "file", file.LocalCachePath)
	return c.execute(req)
}

func writeMultipartBody(mw *multipart.Writer, messageJSON []byte, file models.StoredFile, f *os.File) error {
	msgHeader := textproto.MIMEHeader{}
	msgHeader.Set("Content-Disposition", `form-data; name="message"`)
	msgHeader.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(msgHeader)
	if err != nil {
		return err
	}
	if _, err := part.Write(messageJSON); err != nil {
		return err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepathBase(file.LocalCachePath)))
	if file.MimeType != "" {
		fileHeader.Set("Content-Type", file.MimeType)
	}
	part, err = mw.CreatePart(fileHeader)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("%w: %s: %v", errAttachmentRead, file.LocalCachePath, err)
	}
	return nil
}

// GetMessages fetches messages newer than afterID from the conversation.
// The response body on success is {"items": [...]}.
func (c *Client) GetMessages(ctx context.Context, afterID string) *RawResult {
	path := fmt.Sprintf(endpointConversationFetch, "", url.QueryEscape(afterID), "")
	return c.Do(ctx, http.MethodGet, path, nil)
}

func (c *Client) execute(req *http.Request) *RawResult {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, errAttachmentRead) {
			return &RawResult{BadPayload: true, Err: err}
		}
		slog.Warn("Client.execute: request failed", "url", req.URL.Path, "error", err)
		return &RawResult{Err: err}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &RawResult{StatusCode: resp.StatusCode, Headers: resp.Header, Err: fmt.Errorf("gzip decode failed: %w", err)}
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return &RawResult{StatusCode: resp.StatusCode, Headers: resp.Header, Err: fmt.Errorf("read response failed: %w", err)}
	}
	slog.Debug("Client.execute: response", "url", req.URL.Path, "status", resp.StatusCode, "bytes", len(data))
	return &RawResult{StatusCode: resp.StatusCode, Headers: resp.Header, Body: string(data)}
}

// filepathBase returns the final element of a slash-separated path.
func filepathBase(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
