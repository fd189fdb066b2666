package astyled

import "time"

// Outcome is how a connection ended.
type Outcome string

// Connection outcomes.
const (
	OutcomeOK             Outcome = "ok"
	OutcomeDecodeError    Outcome = "decode_error"
	OutcomeTransformError Outcome = "transform_error"
	OutcomeWriteError     Outcome = "write_error"
)

// Result summarizes one finished connection.
type Result struct {
	Outcome Outcome
	// Kind is ErrorKind of the failure, empty on success.
	Kind      string
	BodyBytes int
	Duration  time.Duration
}

// Observer receives connection lifecycle events, typically to feed metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	ConnOpened()
	ConnClosed(Result)
}

type nopObserver struct{}

func (nopObserver) ConnOpened()       {}
func (nopObserver) ConnClosed(Result) {}
