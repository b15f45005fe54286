package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var rttPattern = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)

// ExecPinger shells out to the system ping binary, which is usually setuid
// or capability-enabled where the daemon itself is not.
type ExecPinger struct {
	binary string
}

func NewExecPinger() *ExecPinger {
	return &ExecPinger{binary: "ping"}
}

func (p *ExecPinger) Ping(ctx context.Context, host string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout+500*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, p.binary, execArgs(host, timeout)...).CombinedOutput()
	if err != nil {
		return Result{Method: "exec", Err: fmt.Errorf("%s %s: %w", p.binary, host, err)}
	}
	rtt := parseRTT(out)
	if rtt == 0 {
		rtt = time.Since(start)
	}
	return Result{Reachable: true, RTT: rtt, Method: "exec"}
}

// execArgs sends a single numeric echo; macOS takes -W in milliseconds, Linux in seconds.
func execArgs(host string, timeout time.Duration) []string {
	wait := max(1, int(timeout.Seconds()+0.5))
	if runtime.GOOS == "darwin" {
		wait = max(100, int(timeout.Milliseconds()))
	}
	return []string{"-n", "-c", "1", "-W", strconv.Itoa(wait), host}
}

func parseRTT(output []byte) time.Duration {
	m := rttPattern.FindSubmatch(output)
	if len(m) < 2 {
		return 0
	}
	ms, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
