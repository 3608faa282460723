package models

import "time"

type ItemStatus string

const (
	ItemStatusDraft  ItemStatus = "DRAFT"
	ItemStatusReady  ItemStatus = "READY"
	ItemStatusPosted ItemStatus = "POSTED"
	ItemStatusFailed ItemStatus = "FAILED"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusDraft, ItemStatusReady, ItemStatusPosted, ItemStatusFailed:
		return true
	}
	return false
}

// WorkItem is one schedulable post: a video plus the text its captions are built from.
type WorkItem struct {
	ID          int64            `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	Description *string          `db:"description" json:"description,omitempty"`
	Website     *string          `db:"website" json:"website,omitempty"`
	Handle      *string          `db:"handle" json:"handle,omitempty"`
	MediaRef    string           `db:"media_ref" json:"media_ref"`
	Status      ItemStatus       `db:"status" json:"status"`
	Platforms   PlatformStatuses `json:"platforms"`
	ScheduledAt *time.Time       `db:"scheduled_at" json:"scheduled_at,omitempty"`
	ErrorLog    *string          `db:"error_log" json:"error_log,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	PostedAt    *time.Time       `db:"posted_at" json:"posted_at,omitempty"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// Eligible reports whether the item may be picked up by a pass running at now.
func (w *WorkItem) Eligible(now time.Time) bool {
	if w.Status != ItemStatusReady {
		return false
	}
	return w.ScheduledAt == nil || !w.ScheduledAt.After(now)
}

func (w *WorkItem) SetErrorLog(msg string) {
	if msg == "" {
		w.ErrorLog = nil
		return
	}
	w.ErrorLog = &msg
}
