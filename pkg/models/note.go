package models

import "time"

// Note is one entry in a task's append-only note log.
type Note struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
