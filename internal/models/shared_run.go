package models

import (
	"time"
)

// SharedRun is a stored shared run. Payload holds the full run JSON; the
// other columns exist for listing without decoding it.
type SharedRun struct {
	ID         string    `gorm:"primarykey;type:varchar(36)" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	Objective  string    `gorm:"type:text" json:"objective"`
	Model      string    `gorm:"index" json:"model"`
	TotalCalls int       `json:"total_calls"`
	NoteCount  int       `json:"note_count"`
	Payload    string    `gorm:"type:jsonb;not null" json:"-"`
}
