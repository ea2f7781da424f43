package reporting

import "time"

// TimeRange filters by record creation time: From inclusive, To exclusive.
// Zero bounds are open.
type TimeRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls    int            `json:"total_calls"`
	ByStatus      map[string]int `json:"by_status"`
	ActiveCalls   int            `json:"active_calls"`
	TerminalCalls int            `json:"terminal_calls"`

	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// ConnectionRate is completed / terminal.
	ConnectionRate float64 `json:"connection_rate"`
}
