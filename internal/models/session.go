package models

import "time"

// TimeSession records time spent on a project. A session with a nil
// StoppedAt is the owner's active timer; the timelog tracker guarantees at
// most one active session per owner.
type TimeSession struct {
	Meta

	ProjectID string     `json:"project_id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Seconds   int64      `json:"seconds"`
}

func (s *TimeSession) RowMeta() *Meta   { return &s.Meta }
func (s *TimeSession) EntityKind() Kind { return KindTimeSession }

func (s *TimeSession) Clone() *TimeSession {
	c := *s
	c.DeletedAt = cloneTime(s.DeletedAt)
	c.SyncedAt = cloneTime(s.SyncedAt)
	c.StoppedAt = cloneTime(s.StoppedAt)
	return &c
}

// Active reports whether the timer is still running.
func (s *TimeSession) Active() bool { return s.StoppedAt == nil && !s.Deleted() }
