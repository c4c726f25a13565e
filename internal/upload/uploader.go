package upload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/insightdelivered/statement-viewer/internal/models"
)

// State is the upload widget state.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateSuccess   State = "success"
	StateError     State = "error"
)

// StatementParser sends one statement to the parsing service. Implementations
// report every failure inside the returned result.
type StatementParser interface {
	ParseStatement(ctx context.Context, f models.UploadFile) models.ParseResult
}

// Snapshot is a copy of the uploader state for rendering. Rejected holds
// the text of the latest client-side rejection; it never replaces Result.
type Snapshot struct {
	State    State
	FileName string
	Result   *models.ParseResult
	Error    string
	Rejected string
}

// Uploader owns the page-level upload state: at most one request is in
// flight, and the latest result replaces the previous one wholesale.
type Uploader struct {
	parser   StatementParser
	logger   *slog.Logger
	inFlight atomic.Bool

	mu       sync.Mutex
	state    State
	fileName string
	result   *models.ParseResult
	errText  string
	rejected string
}

// NewUploader creates an idle uploader.
func NewUploader(parser StatementParser, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{parser: parser, logger: logger, state: StateIdle}
}

// Upload validates f and, when no other upload is outstanding, sends it.
// A *ValidationError is returned without any request being made and leaves
// the state and the last result untouched; ErrBusy means the call was
// dropped because another upload is still pending.
func (u *Uploader) Upload(ctx context.Context, f models.UploadFile) (models.ParseResult, error) {
	if err := Validate(f); err != nil {
		u.logger.Info("upload.rejected", "file", f.Name, "size", f.Size, "error", err)
		u.mu.Lock()
		u.rejected = err.Error()
		u.mu.Unlock()
		return models.ParseResult{Success: false, Error: err.Error()}, err
	}

	if !u.inFlight.CompareAndSwap(false, true) {
		u.logger.Warn("upload.dropped", "file", f.Name, "reason", "upload already in progress")
		return models.ParseResult{}, ErrBusy
	}
	defer u.inFlight.Store(false)

	u.set(StateUploading, f.Name, nil, "")
	u.logger.Info("upload.started", "file", f.Name, "size", f.Size)

	res := u.parser.ParseStatement(ctx, f)
	if res.Success {
		u.set(StateSuccess, f.Name, &res, "")
		u.logger.Info("upload.succeeded", "file", f.Name, "bank", res.Bank, "method", res.Method)
	} else {
		u.set(StateError, f.Name, &res, res.ErrorText())
		u.logger.Info("upload.failed", "file", f.Name, "error", res.ErrorText())
	}
	return res, nil
}

// Busy reports whether an upload is outstanding.
func (u *Uploader) Busy() bool {
	return u.inFlight.Load()
}

// Snapshot returns a copy of the current state.
func (u *Uploader) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Snapshot{
		State:    u.state,
		FileName: u.fileName,
		Result:   u.result,
		Error:    u.errText,
		Rejected: u.rejected,
	}
}

// LastSuccess returns the most recent result when it was successful.
func (u *Uploader) LastSuccess() (*models.ParseResult, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateSuccess || u.result == nil {
		return nil, false
	}
	return u.result, true
}

func (u *Uploader) set(state State, fileName string, res *models.ParseResult, errText string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = state
	u.fileName = fileName
	u.result = res
	u.errText = errText
	if state == StateUploading {
		u.rejected = ""
	}
}
