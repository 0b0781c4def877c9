package relay

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reel-pipeline/internal/telemetry"
	"reel-pipeline/internal/watch"
)

// Relay holds a dedicated Postgres connection on LISTEN and feeds every
// status-change notification to the watcher. It stands in for a managed
// platform's row-level webhook: the uploads table trigger emits the same JSON
// payload the HTTP hook accepts.
type Relay struct {
	pool    *pgxpool.Pool
	watcher *watch.Watcher
	channel string
}

// New builds a relay listening on the given pg_notify channel.
func New(pool *pgxpool.Pool, watcher *watch.Watcher, channel string) *Relay {
	return &Relay{pool: pool, watcher: watcher, channel: channel}
}

// Run listens until context cancellation, reconnecting with a small backoff
// when the connection drops. Notifications raced during a reconnect are lost;
// the projection read path still surfaces the state change, only the push is
// missed, matching the store's best-effort delivery contract.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := r.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("relay: listen: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *Relay) listen(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+r.channel); err != nil {
		return err
	}
	log.Printf("relay: listening on %s", r.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		telemetry.RelayEvents.Inc()
		r.handle(ctx, []byte(notification.Payload))
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	trigger, err := watch.ParseTrigger(payload)
	if err != nil {
		log.Printf("relay: %v", err)
		return
	}
	outcome, err := r.watcher.Handle(ctx, trigger)
	if err != nil {
		log.Printf("relay: dispatch %s: %v", trigger.Record.ID, err)
		return
	}
	if outcome.Skipped {
		log.Printf("relay: skipped %s (%s)", trigger.Record.ID, outcome.Reason)
		return
	}
	log.Printf("relay: notified %s -> %s", trigger.Record.ID, trigger.Record.Status)
}
