package queue

import "time"

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// Item is the lifecycle record of one sync attempt for one data source.
type Item struct {
	ID           string     `json:"id"`
	DataSourceID string     `json:"dataSourceId"`
	Status       Status     `json:"status"`
	QueuedAt     time.Time  `json:"queuedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	RecordCount  int        `json:"recordCount,omitempty"`
	LogEntryID   string     `json:"logEntryId,omitempty"`
}

func (it *Item) clone() Item {
	out := *it
	if it.StartedAt != nil {
		t := *it.StartedAt
		out.StartedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Outcome is what the executor reports when a run ends.
type Outcome struct {
	Success     bool
	RecordCount int
	Message     string
	// Records is an optional sample kept with the log entry.
	Records []map[string]interface{}
	// Err is the failure cause when Success is false.
	Err error
}

// Failed builds a failed outcome from err.
func Failed(err error) Outcome {
	return Outcome{Err: err}
}

func (o Outcome) errorMessage() string {
	if o.Success {
		return ""
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Message != "" {
		return o.Message
	}
	return "sync failed"
}
