package model

import "time"

// PostHistory is an append-only record of a successful publish, used by admission
// control to compute daily counts and minimum-interval spacing.
type PostHistory struct {
	ID         string    `json:"id"          db:"id"`
	UserID     string    `json:"user_id"     db:"user_id"`
	Platform   string    `json:"platform"    db:"platform"`
	PostID     string    `json:"post_id"     db:"post_id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	PostedAt   time.Time `json:"posted_at"   db:"posted_at"`
}

// CycleLog is the append-only record of one scheduler tick that did work.
type CycleLog struct {
	ID              string    `json:"id"                db:"id"`
	StartedAt       time.Time `json:"started_at"        db:"started_at"`
	FinishedAt      time.Time `json:"finished_at"       db:"finished_at"`
	Processed       int       `json:"processed"         db:"processed"`
	Published       int       `json:"published"         db:"published"`
	Failed          int       `json:"failed"            db:"failed"`
	ExecutionTimeMs int64     `json:"execution_time_ms" db:"execution_time_ms"`
	ErrorsCount     int       `json:"errors_count"      db:"errors_count"`
}
