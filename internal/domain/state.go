package domain

// Status is the processing state shared by all consuming stages.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal state
// machine step. Processing is re-entrant: a message may be picked up, fail,
// and be redelivered until the attempt ceiling. Sent and failed are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusReceived:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// Advance computes the post-attempt status for a consuming stage. A failed
// attempt within the ceiling stays in processing (the queue's redelivery is
// the retry mechanism); beyond the ceiling the message dead-letters as failed.
func Advance(attempts, maxAttempts int, succeeded bool) Status {
	if succeeded {
		return StatusSent
	}
	if attempts >= maxAttempts {
		return StatusFailed
	}
	return StatusProcessing
}
