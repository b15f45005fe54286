package probe

import (
	"context"
	"time"
)

// DefaultTimeout keeps a diagnostic ping from delaying the loop noticeably.
const DefaultTimeout = time.Second

// Result is the outcome of one reachability check.
type Result struct {
	Reachable bool
	RTT       time.Duration
	Method    string
	Err       error
}

// Pinger checks whether a host answers an echo request.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) Result
}

// NewDefault prefers raw ICMP and falls back to the system ping binary
// when raw sockets are not permitted.
func NewDefault() Pinger {
	return NewFallbackPinger(NewICMPPinger(), NewExecPinger())
}
