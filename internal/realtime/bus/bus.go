package bus

import (
	"context"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}

type Config struct {
	RedisAddr    string
	RedisChannel string
}

// New returns a Redis bus when an address is configured, otherwise an
// in-process bus that only reaches clients of this instance.
func New(log *logger.Logger, cfg Config) (Bus, error) {
	if cfg.RedisAddr == "" {
		return NewLocalBus(log), nil
	}
	return NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
}
