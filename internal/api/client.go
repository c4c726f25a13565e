package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightdelivered/statement-viewer/internal/models"
)

// User-facing texts for failures that carry no server message.
const (
	MsgServiceUnreachable = "No response from the statement parsing service. Please check that the backend is running and try again."
	MsgTimeout            = "The statement parsing service took too long to respond. Please try again."
	MsgCanceled           = "The upload was cancelled."
	MsgUnexpected         = "An unexpected error occurred while processing the statement. Please try again."
)

// DefaultTimeout bounds a single parse request. OCR of a scanned statement
// can take minutes on the service side.
const DefaultTimeout = 600 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Client talks to the external statement parsing service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ParseStatement uploads one statement and returns the parse result. It never
// fails: every error is reported as a result with Success false.
func (c *Client) ParseStatement(ctx context.Context, f models.UploadFile) models.ParseResult {
	reqID := uuid.New().String()
	start := time.Now()

	body, contentType, err := multipartBody(f)
	if err != nil {
		c.logger.Error("api.parse.encode_error", "req_id", reqID, "error", err)
		return failure(MsgUnexpected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", body)
	if err != nil {
		c.logger.Error("api.parse.build_request_error", "req_id", reqID, "error", err)
		return failure(MsgUnexpected)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	c.logger.Info("api.parse.request", "req_id", reqID, "url", req.URL.String(), "file", f.Name, "size", f.Size)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("api.parse.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return failure(transportMessage(err))
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("api.parse.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("api.parse.read_error", "req_id", reqID, "status", resp.StatusCode, "error", err)
		return failure(transportMessage(err))
	}

	c.logger.Info("api.parse.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	var res models.ParseResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.Error("api.parse.decode_error", "req_id", reqID, "status", resp.StatusCode, "error", err)
		if resp.StatusCode/100 != 2 {
			return models.ParseResult{
				Success: false,
				Error:   fmt.Sprintf("Server error (%d %s)", resp.StatusCode, http.StatusText(resp.StatusCode)),
				Message: MsgUnexpected,
			}
		}
		return failure(MsgUnexpected)
	}

	if resp.StatusCode/100 != 2 {
		res.Success = false
		if res.ErrorText() == "" {
			res.Error = fmt.Sprintf("Server error (%d %s)", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}
	if !res.Success && res.ErrorText() == "" {
		res.Error = MsgUnexpected
	}
	return res
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var out models.HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Banks calls GET /banks and returns the supported issuers.
func (c *Client) Banks(ctx context.Context) ([]models.Bank, error) {
	var out models.BanksResponse
	if err := c.getJSON(ctx, "/banks", &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, errors.New("banks: service reported failure")
	}
	return out.Banks, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	reqID := uuid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("api.get.send_error", "req_id", reqID, "path", path, "error", err)
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s: non-2xx status: %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode json: %w", path, err)
	}
	return nil
}

func multipartBody(f models.UploadFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := f.Name
	if name == "" {
		name = "uploaded.pdf"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", "application/pdf")

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", fmt.Errorf("write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func transportMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return MsgCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return MsgTimeout
	}
	return MsgServiceUnreachable
}

func failure(msg string) models.ParseResult {
	return models.ParseResult{Success: false, Error: msg}
}
