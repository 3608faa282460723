package transfer

import "time"

// WorkItemCreation is the authoring payload for a new work item, either as
// multipart form fields or as a JSON body.
type WorkItemCreation struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	Website     string `json:"website" form:"website"`
	Handle      string `json:"handle" form:"handle"`
	MediaRef    string `json:"media_ref" form:"media_ref"`
	ScheduledAt string `json:"scheduled_at" form:"scheduled_at"`
	Status      string `json:"status" form:"status"`
}

type WorkItemStatusUpdate struct {
	Status string `json:"status" form:"status"`
}

type RetryResult struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	PlatformsReset int    `json:"platforms_reset"`
}

type BulkCreationError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type BulkCreationResult struct {
	Created []int64             `json:"created"`
	Errors  []BulkCreationError `json:"errors"`
	Total   int                 `json:"total"`
}

type PlatformInfo struct {
	Platform   string `json:"platform"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// TokenHealth is the credential state of one platform or notification sink.
// Valid, ExpiresAt and DaysLeft are only set where the token can be inspected;
// a valid token without ExpiresAt never expires.
type TokenHealth struct {
	Configured bool       `json:"configured"`
	Valid      *bool      `json:"valid,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	DaysLeft   *int       `json:"days_left,omitempty"`
	Scopes     []string   `json:"scopes,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type WebhookResult struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
