package events

import "time"

// EventData is implemented by every typed event payload.
type EventData interface {
	// EventType returns the event type this payload belongs to.
	EventType() EventType
}

// ErrorData is the payload for ErrorOccurred / ErrorCleared events. The
// message is the short, human-readable text shown on user-facing surfaces
// ("BROKER DOWN", "REBAL FAIL", ...).
type ErrorData struct {
	Message string
	Cleared bool
}

func (d *ErrorData) EventType() EventType {
	if d.Cleared {
		return ErrorCleared
	}
	return ErrorOccurred
}

// TradeExecutedData is the payload for TradeExecuted events.
type TradeExecutedData struct {
	Symbol   string
	Side     string
	Quantity int
	Price    float64
	OrderID  string
}

func (d *TradeExecutedData) EventType() EventType { return TradeExecuted }

// PlannerProgress is the payload for PlannerBatchComplete events.
type PlannerProgress struct {
	HasSequences       bool
	TotalSequences     int
	EvaluatedCount     int
	IsPlanning         bool
	IsFinished         bool
	PortfolioHash      string // First 8 characters
	ProgressPercentage float64
}

func (d *PlannerProgress) EventType() EventType { return PlannerBatchComplete }

// SequencesGeneratedData is the payload for PlannerSequencesGenerated.
type SequencesGeneratedData struct {
	PortfolioHash string
	Count         int
}

func (d *SequencesGeneratedData) EventType() EventType { return PlannerSequencesGenerated }

// JobStatusData is the payload for job lifecycle events.
type JobStatusData struct {
	JobType    string
	Status     string // "completed", "failed", "skipped"
	Error      string
	DurationMS int64
	ExecutedAt time.Time
}

func (d *JobStatusData) EventType() EventType {
	if d.Status == "" {
		return JobStart
	}
	return JobComplete
}

// GenericData is the payload for events that carry loose key/value context.
type GenericData struct {
	Type   EventType
	Fields map[string]any
}

func (d *GenericData) EventType() EventType { return d.Type }
