package domain

// RunStats reports the outcome of one pipeline run. It is returned from
// every orchestrator entry point and never persisted.
type RunStats struct {
	Fetched   int      `json:"fetched"`
	New       int      `json:"new"`
	Pending   int      `json:"pending,omitempty"`
	Processed int      `json:"processed"`
	Notified  int      `json:"notified"`
	Errors    []string `json:"errors,omitempty"`
}

// TriggerStatus describes the branch a manual daily-task trigger took.
type TriggerStatus string

const (
	// StatusFetchedAndNotified means no papers had been fetched today, so
	// the full daily pipeline ran.
	StatusFetchedAndNotified TriggerStatus = "fetched_and_notified"

	// StatusProcessedAndNotified means today's papers existed but some were
	// still unnotified; only that subset was processed and sent.
	StatusProcessedAndNotified TriggerStatus = "processed_and_notified"

	// StatusAlreadyNotified means everything fetched today was already
	// notified and force was not set; nothing was sent.
	StatusAlreadyNotified TriggerStatus = "already_notified"

	// StatusReNotified means force was set: notified flags were reset and
	// the full set re-sent.
	StatusReNotified TriggerStatus = "re_notified"
)

// TriggerOutcome is the result of TriggerDaily.
type TriggerOutcome struct {
	Status TriggerStatus `json:"status"`
	Stats  RunStats      `json:"stats"`
}
