package domain

import "time"

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusError   Status = "error"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusActive, StatusExpired, StatusError:
		return Status(raw), true
	}
	return "", false
}

// DeriveStatus computes the display status of a record at now. It is never
// persisted: the result changes as the wall clock passes expires_at.
func DeriveStatus(processing ProcessingStatus, expiresAt, now time.Time) Status {
	if now.After(expiresAt) {
		return StatusExpired
	}
	if processing == ProcessingFailed {
		return StatusError
	}
	return StatusActive
}

// Status is DeriveStatus for a stored record.
func (i Insight) Status(now time.Time) Status {
	return DeriveStatus(i.ProcessingStatus, i.ExpiresAt, now)
}
