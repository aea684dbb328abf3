package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Channel is the LISTEN/NOTIFY channel used on PostgreSQL.
const Channel = "users_changed"

// PgPublisher publishes changes with pg_notify so every service instance
// connected to the same database sees them.
type PgPublisher struct {
	db      *sqlx.DB
	channel string
}

func NewPgPublisher(db *sqlx.DB) *PgPublisher {
	return &PgPublisher{db: db, channel: Channel}
}

func (p *PgPublisher) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Relay listens on Channel and republishes every change to dst, usually the
// local Broker. It returns when ctx is cancelled.
func Relay(ctx context.Context, dsn string, dst Publisher, logger *zap.SugaredLogger) error {
	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warnw("notify listener event", "event", ev, "err", err)
		}
	})
	defer l.Close()

	if err := l.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			// nil after a reconnect; changes may have been missed
			if n == nil {
				_ = dst.Publish(ctx, Change{Kind: KindReset, At: time.Now().UTC()})
				continue
			}
			c, err := decode(n.Extra)
			if err != nil {
				logger.Warnw("bad notify payload", "payload", n.Extra, "err", err)
				continue
			}
			_ = dst.Publish(ctx, c)
		case <-ping.C:
			go func() { _ = l.Ping() }()
		}
	}
}

func decode(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	return c, nil
}
