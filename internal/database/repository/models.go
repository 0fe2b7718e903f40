package repository

import "time"

// Profile represents a profile row.
type Profile struct {
	ID          string
	Identity    string
	DisplayName string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FocusSession represents a finished focus session.
type FocusSession struct {
	ID               string
	Identity         string
	TotalSeconds     int
	CompletedSeconds int
	EndReason        string
	StartedAt        time.Time
	EndedAt          time.Time
}
