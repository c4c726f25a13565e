package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/insightdelivered/statement-viewer/internal/buildinfo"
	"github.com/insightdelivered/statement-viewer/internal/config"
	"github.com/insightdelivered/statement-viewer/internal/extractor"
	"github.com/insightdelivered/statement-viewer/internal/models"
	"github.com/insightdelivered/statement-viewer/internal/results"
	"github.com/insightdelivered/statement-viewer/internal/upload"
	"github.com/insightdelivered/statement-viewer/internal/writer"
)

const (
	sessionCookie = "sv_session"
	themeCookie   = "theme"
	themeLight    = "light"
	themeDark     = "dark"

	// bodyLimit leaves room above the upload limit so oversized files reach
	// validation and get the same message as any other rejection.
	bodyLimit = 2 * config.MaxUploadBytes

	banksTimeout = 3 * time.Second
	banksTTL     = 5 * time.Minute
	banksRetry   = 30 * time.Second
)

// MsgBusy is shown when a second upload is dropped.
const MsgBusy = "An upload is already in progress. Please wait for it to finish."

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Backend is the external parsing service as seen by the page.
type Backend interface {
	ParseStatement(ctx context.Context, f models.UploadFile) models.ParseResult
	Health(ctx context.Context) (*models.HealthStatus, error)
	Banks(ctx context.Context) ([]models.Bank, error)
}

// Handler holds the HTTP handlers of the web UI.
type Handler struct {
	Backend    Backend
	Sessions   *SessionStore
	Logger     *slog.Logger
	APIBaseURL string

	now   func() time.Time
	banks bankCache
}

// bankCache keeps the last banks answer so page loads do not wait on the
// service. Failures are cached too, for a shorter time.
type bankCache struct {
	mu      sync.Mutex
	banks   []models.Bank
	expires time.Time
}

// NewHandler wires a handler whose sessions upload through backend.
func NewHandler(backend Backend, apiBaseURL string, sessionTTL time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	newUploader := func() *upload.Uploader {
		return upload.NewUploader(backend, logger)
	}
	return &Handler{
		Backend:    backend,
		Sessions:   NewSessionStore(sessionTTL, newUploader, logger),
		Logger:     logger,
		APIBaseURL: apiBaseURL,
		now:        time.Now,
	}
}

// NewApp creates the fiber app with all routes registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "statement-viewer",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
	})
	app.Use(recover.New())
	app.Use(h.logRequests)
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/", h.handleIndex)
	app.Post("/upload", h.handleUploadForm)
	app.Post("/theme", h.handleTheme)
	app.Get("/download/:format", h.handleDownload)

	app.Post("/api/parse", h.handleParse)
	app.Get("/api/health", h.handleHealth)
	app.Get("/api/banks", h.handleBanks)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": buildinfo.Version})
	})
}

type pageData struct {
	Theme      string
	NextTheme  string
	State      upload.State
	FileName   string
	Preview    *extractor.Info
	View       results.View
	Notice     string
	Rejected   string
	Banks      []models.Bank
	APIBaseURL string
	MaxSize    string
	Version    string
}

func (h *Handler) handleIndex(c *fiber.Ctx) error {
	sess := h.session(c)
	snap := sess.Uploader.Snapshot()

	data := pageData{
		Theme:      themeFrom(c),
		State:      snap.State,
		FileName:   snap.FileName,
		Preview:    sess.Preview(),
		View:       results.Render(snap.Result),
		Notice:     sess.TakeNotice(),
		Rejected:   snap.Rejected,
		Banks:      h.supportedBanks(c.UserContext()),
		APIBaseURL: h.APIBaseURL,
		MaxSize:    humanize.IBytes(config.MaxUploadBytes),
		Version:    buildinfo.Version,
	}
	data.NextTheme = toggleTheme(data.Theme)

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// handleUploadForm serves the plain HTML form and redirects back to the page.
func (h *Handler) handleUploadForm(c *fiber.Ctx) error {
	sess := h.session(c)
	res, _, err := h.runUpload(c, sess)

	// The uploader records its own outcomes, rejections included; anything
	// it did not record goes to the notice line.
	var ve *upload.ValidationError
	if err != nil && !errors.As(err, &ve) {
		sess.SetNotice(res.Error)
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// handleParse is the JSON variant of the upload flow.
func (h *Handler) handleParse(c *fiber.Ctx) error {
	sess := h.session(c)
	res, status, _ := h.runUpload(c, sess)
	return c.Status(status).JSON(res)
}

func (h *Handler) runUpload(c *fiber.Ctx, sess *Session) (models.ParseResult, int, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		msg := "No file uploaded. Use form field 'file'."
		return models.ParseResult{Success: false, Error: msg}, fiber.StatusBadRequest, err
	}

	file, err := readUpload(fh)
	if err != nil {
		h.Logger.Error("web.upload.read_error", "session", sess.ID, "file", fh.Filename, "error", err)
		msg := "Failed to read the uploaded file."
		return models.ParseResult{Success: false, Error: msg}, fiber.StatusBadRequest, err
	}

	var info *extractor.Info
	if upload.Validate(file) == nil {
		info = h.inspect(file)
	}

	res, err := sess.Uploader.Upload(c.UserContext(), file)
	if err == nil {
		// Only the file that was actually sent owns the preview.
		sess.SetPreview(info)
	}
	var ve *upload.ValidationError
	switch {
	case errors.As(err, &ve):
		return res, fiber.StatusBadRequest, err
	case errors.Is(err, upload.ErrBusy):
		return models.ParseResult{Success: false, Error: MsgBusy}, fiber.StatusConflict, err
	case err != nil:
		return models.ParseResult{Success: false, Error: err.Error()}, fiber.StatusInternalServerError, err
	case !res.Success:
		return res, fiber.StatusBadGateway, nil
	}
	return res, fiber.StatusOK, nil
}

func (h *Handler) inspect(file models.UploadFile) *extractor.Info {
	info, err := extractor.Inspect(file.Data)
	if err != nil {
		h.Logger.Warn("web.upload.inspect_failed", "file", file.Name, "error", err)
		return nil
	}
	return info
}

func (h *Handler) handleDownload(c *fiber.Ctx) error {
	sess := h.session(c)
	last, ok := sess.Uploader.LastSuccess()
	if !ok {
		return writeError(c, fiber.StatusNotFound, "No results to download yet. Upload a statement first.")
	}

	now := h.now()
	switch c.Params("format") {
	case "json":
		name, body, err := results.ExportJSON(last, now)
		if err != nil {
			return err
		}
		c.Attachment(name)
		c.Type("json")
		return c.Send(body)
	case "csv":
		var buf bytes.Buffer
		w := &writer.CSVWriter{IncludeHeader: true}
		if err := w.Write(&buf, results.Render(last)); err != nil {
			return err
		}
		c.Attachment(results.ExportFilename(now, "csv"))
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		return c.Send(buf.Bytes())
	case "xlsx":
		w := &writer.XLSXWriter{IncludeHeader: true}
		body, err := w.Bytes(results.Render(last))
		if err != nil {
			return err
		}
		c.Attachment(results.ExportFilename(now, "xlsx"))
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		return c.Send(body)
	default:
		return writeError(c, fiber.StatusNotFound, "Unknown export format. Use json, csv or xlsx.")
	}
}

func (h *Handler) handleTheme(c *fiber.Ctx) error {
	theme := c.FormValue("theme")
	if theme != themeLight && theme != themeDark {
		theme = toggleTheme(themeFrom(c))
	}
	c.Cookie(&fiber.Cookie{
		Name:     themeCookie,
		Value:    theme,
		Path:     "/",
		Expires:  h.now().AddDate(1, 0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (h *Handler) handleHealth(c *fiber.Ctx) error {
	status, err := h.Backend.Health(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"status": "unreachable",
			"error":  err.Error(),
		})
	}
	return c.JSON(status)
}

func (h *Handler) handleBanks(c *fiber.Ctx) error {
	banks, err := h.Backend.Banks(c.UserContext())
	if err != nil {
		return writeError(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(models.BanksResponse{Success: true, Banks: banks})
}

func (h *Handler) supportedBanks(ctx context.Context) []models.Bank {
	h.banks.mu.Lock()
	if h.now().Before(h.banks.expires) {
		banks := h.banks.banks
		h.banks.mu.Unlock()
		return banks
	}
	h.banks.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, banksTimeout)
	defer cancel()
	banks, err := h.Backend.Banks(ctx)
	ttl := banksTTL
	if err != nil {
		h.Logger.Debug("web.banks.unavailable", "error", err)
		banks, ttl = nil, banksRetry
	}

	h.banks.mu.Lock()
	h.banks.banks = banks
	h.banks.expires = h.now().Add(ttl)
	h.banks.mu.Unlock()
	return banks
}

// session returns the caller's session, starting one when needed.
func (h *Handler) session(c *fiber.Ctx) *Session {
	if sess, ok := h.Sessions.Get(c.Cookies(sessionCookie)); ok {
		return sess
	}
	sess := h.Sessions.Create()
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return sess
}

func (h *Handler) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.Logger.Info("web.request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		msg = fe.Message
	}
	if status == fiber.StatusRequestEntityTooLarge {
		msg = "File is too large. The maximum size is " + humanize.IBytes(config.MaxUploadBytes) + "."
	}
	if status >= fiber.StatusInternalServerError {
		h.Logger.Error("web.handler_error", "path", c.Path(), "error", err)
	}
	return writeError(c, status, msg)
}

// readUpload loads an uploaded part. Oversized files are only sniffed, never
// read in full: validation rejects them on size alone.
func readUpload(fh *multipart.FileHeader) (models.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return models.UploadFile{}, err
	}
	defer f.Close()

	limit := fh.Size
	if limit > config.MaxUploadBytes {
		limit = 512
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return models.UploadFile{}, err
	}
	return models.UploadFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Data:        data,
	}, nil
}

func themeFrom(c *fiber.Ctx) string {
	if c.Cookies(themeCookie) == themeDark {
		return themeDark
	}
	return themeLight
}

func toggleTheme(theme string) string {
	if theme == themeDark {
		return themeLight
	}
	return themeDark
}

func writeError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(models.ParseResult{
		Success: false,
		Error:   msg,
	})
}
