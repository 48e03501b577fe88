package job

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindSpeech Kind = "speech"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Job struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Status       Status         `json:"status"`
	Progress     int            `json:"progress"`
	Message      string         `json:"message"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	ResultPath   string         `json:"resultUrl,omitempty"`
	Error        string         `json:"error,omitempty"`
	RemoteTaskID string         `json:"remoteTaskId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	seq uint64 // insertion order, breaks CreatedAt ties in List
}

// New builds a pending job. The metadata map captures the request parameters
// for later inspection via the history endpoints.
func New(kind Kind, message string, metadata map[string]any) *Job {
	return &Job{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Kind:      kind,
		Status:    StatusPending,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// Update is a partial mutation applied atomically by the registry.
// Nil fields are left untouched.
type Update struct {
	Status       *Status
	Progress     *int
	Message      *string
	ResultPath   *string
	Error        *string
	RemoteTaskID *string
}

func StatusPtr(s Status) *Status { return &s }
func IntPtr(i int) *int          { return &i }
func StrPtr(s string) *string    { return &s }
