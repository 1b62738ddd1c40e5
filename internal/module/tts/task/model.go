package task

import (
	"time"
)

// Status represents the status of a synthesis task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type represents the type of synthesis task.
type Type string

const (
	TypeOnline   Type = "online"
	TypeLongText Type = "long_text"
)

// TextPreviewLength is how many characters of the source text are kept
// on the task record itself. The full text lives in the file store.
const TextPreviewLength = 200

// Metadata holds optional synthesis parameters attached at submission.
type Metadata struct {
	Seed  *int64         `json:"seed,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Task represents a synthesis task.
type Task struct {
	TaskID       string     `json:"task_id" gorm:"primaryKey;size:32"`
	Type         Type       `json:"type" gorm:"not null;index"`
	Status       Status     `json:"status" gorm:"not null;index"`
	Voice        string     `json:"voice" gorm:"not null"`
	TextPreview  string     `json:"text_preview" gorm:"size:256"`
	TextLength   int        `json:"text_length"`
	TextRef      string     `json:"-" gorm:"column:text_ref"`
	Priority     int        `json:"priority" gorm:"default:0"`
	CallbackURL  string     `json:"callback_url,omitempty"`
	Metadata     *Metadata  `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	AudioRef     string     `json:"-" gorm:"column:audio_ref"`
	SubtitleRef  string     `json:"-" gorm:"column:subtitle_ref"`
	AudioURL     *string    `json:"audio_url,omitempty"`
	SubtitleURL  *string    `json:"srt_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`

	ProcessingTime float64 `json:"processing_time,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tts_tasks"
}

// IsTerminal checks if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// CanTransition reports whether moving from the task's current status to
// the target status is allowed. Terminal states accept no transitions.
func (t *Task) CanTransition(to Status) bool {
	switch t.Status {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}

// Preview returns the preview slice of the given text.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= TextPreviewLength {
		return text
	}
	return string(runes[:TextPreviewLength])
}

// Filter represents task list filter options.
type Filter struct {
	Type     *Type
	Status   *Status
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}
