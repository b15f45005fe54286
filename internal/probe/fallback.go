package probe

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"time"
)

// FallbackPinger tries primary and only consults secondary on permission errors.
type FallbackPinger struct {
	primary   Pinger
	secondary Pinger
}

func NewFallbackPinger(primary, secondary Pinger) *FallbackPinger {
	return &FallbackPinger{primary: primary, secondary: secondary}
}

func (p *FallbackPinger) Ping(ctx context.Context, host string, timeout time.Duration) Result {
	res := p.primary.Ping(ctx, host, timeout)
	if res.Reachable || !isPermissionError(res.Err) {
		return res
	}
	return p.secondary.Ping(ctx, host, timeout)
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied")
}
