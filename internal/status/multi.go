package status

import (
	"context"

	"go.uber.org/zap"
)

// Multi writes the primary publisher and then each mirror.
// Only the primary's error is returned; mirror failures are logged.
type Multi struct {
	primary Publisher
	mirrors []Publisher
	logger  *zap.Logger
}

func NewMulti(logger *zap.Logger, primary Publisher, mirrors ...Publisher) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *Multi) Publish(ctx context.Context, rec Record) error {
	err := m.primary.Publish(ctx, rec)
	for _, mirror := range m.mirrors {
		if mErr := mirror.Publish(ctx, rec); mErr != nil {
			m.logger.Warn("status mirror failed", zap.Error(mErr))
		}
	}
	return err
}
