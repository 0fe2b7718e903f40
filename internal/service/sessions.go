package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/session"
)

// SessionRecorder writes every ended focus session to the session log.
type SessionRecorder struct {
	Sessions *repository.SessionRepo
	Log      *zap.Logger
}

// Attach registers the recorder as an end hook on m.
func (r *SessionRecorder) Attach(m *session.Machine) {
	m.OnEnd(func(s session.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Record(ctx, s); err != nil && r.Log != nil {
			r.Log.Error("record session", zap.String("session", s.ID), zap.Error(err))
		}
	})
}

// Record stores one ended session.
func (r *SessionRecorder) Record(ctx context.Context, s session.Snapshot) error {
	ended := s.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	return r.Sessions.Insert(ctx, repository.FocusSession{
		ID:               s.ID,
		Identity:         s.Identity,
		TotalSeconds:     s.Total,
		CompletedSeconds: s.Elapsed(),
		EndReason:        string(s.EndReason),
		StartedAt:        s.StartedAt,
		EndedAt:          ended,
	})
}

// History returns identity's recorded sessions, newest first.
func (r *SessionRecorder) History(ctx context.Context, identity string, limit int) ([]repository.FocusSession, error) {
	return r.Sessions.List(ctx, identity, limit)
}
