package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightdelivered/statement-viewer/internal/extractor"
	"github.com/insightdelivered/statement-viewer/internal/upload"
)

// Session is the page-level state of one browser.
type Session struct {
	ID       string
	Uploader *upload.Uploader

	mu       sync.Mutex
	notice   string
	preview  *extractor.Info
	lastSeen time.Time
}

// SetNotice stores a one-shot message for the next page render.
func (s *Session) SetNotice(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = msg
}

// TakeNotice returns and clears the pending notice.
func (s *Session) TakeNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.notice
	s.notice = ""
	return msg
}

// SetPreview stores the local PDF preview of the file being uploaded.
func (s *Session) SetPreview(info *extractor.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = info
}

// Preview returns the last stored PDF preview.
func (s *Session) Preview() *extractor.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// SessionStore keeps sessions in memory and forgets idle ones.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	newUploader func() *upload.Uploader
	now         func() time.Time
	logger      *slog.Logger
}

// NewSessionStore creates a store whose sessions expire after ttl of
// inactivity. newUploader builds the uploader of each new session.
func NewSessionStore(ttl time.Duration, newUploader func() *upload.Uploader, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		newUploader: newUploader,
		now:         time.Now,
		logger:      logger,
	}
}

// Get returns a live session and marks it as seen.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return nil, false
	}
	sess.mu.Lock()
	sess.lastSeen = now
	sess.mu.Unlock()
	return sess, true
}

// Create starts a new session.
func (s *SessionStore) Create() *Session {
	sess := &Session{
		ID:       uuid.New().String(),
		Uploader: s.newUploader(),
		lastSeen: s.now(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Debug("web.session.created", "session", sess.ID)
	return sess
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops idle sessions and returns how many were removed. Sessions
// with an upload in flight are kept.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("web.session.swept", "removed", n, "remaining", s.Len())
			}
		}
	}
}

func (s *SessionStore) expired(sess *Session, now time.Time) bool {
	if s.ttl <= 0 || sess.Uploader.Busy() {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return now.Sub(sess.lastSeen) > s.ttl
}
