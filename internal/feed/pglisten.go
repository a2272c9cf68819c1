package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Listener holds a dedicated Postgres connection on LISTEN and publishes
// every decoded notification. It reconnects until its context ends.
type Listener struct {
	databaseURL string
	channel     string
	out         Publisher
	log         *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewListener(databaseURL, channel string, out Publisher, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		databaseURL: databaseURL,
		channel:     channel,
		out:         out,
		log:         log,
		minBackoff:  500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("change feed listener disconnected",
			zap.String("channel", l.channel),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.databaseURL)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("change feed listening", zap.String("channel", l.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := Decode([]byte(n.Payload))
		if err != nil {
			l.log.Warn("dropping malformed change event", zap.Error(err))
			continue
		}
		l.out.Publish(ev)
	}
}
