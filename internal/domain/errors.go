package domain

import "errors"

// ErrDuplicate is returned by the conversation store when a conditional
// write loses to an existing record: an idempotency mark already set, or a
// timestamp collision on append. Stages treat it as an expected consequence
// of at-least-once delivery, not a failure.
var ErrDuplicate = errors.New("duplicate record")
