package outbox

import (
	"context"
	"errors"
	"time"

	"expertflow/db"
	"expertflow/logging"
	"expertflow/notify"
)

// Observer is told about every delivery attempt.
type Observer interface {
	Delivered(topic string)
	Failed(topic string, dead bool)
}

// RelayOptions tunes the drain loop.
type RelayOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// Relay drains pending outbox rows into a notify.Sink.
type Relay struct {
	pool     db.TxBeginner
	store    Store
	sink     notify.Sink
	log      logging.Logger
	observer Observer
	opts     RelayOptions
}

func NewRelay(pool db.TxBeginner, store Store, sink notify.Sink, log logging.Logger, opts RelayOptions) *Relay {
	if store == nil {
		store = NewStore()
	}
	if log == nil {
		log = logging.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Relay{pool: pool, store: store, sink: sink, log: log, opts: opts}
}

func (r *Relay) WithObserver(o Observer) *Relay {
	r.observer = o
	return r
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.DrainOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.Warn(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce delivers one batch and reports how many messages it handled.
// Delivery failures are recorded on the row, not returned.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, m := range msgs {
		ev := notify.Event{ID: m.ID, Topic: m.Topic, Payload: m.Payload, OccurredAt: m.CreatedAt}
		if deliverErr := r.sink.Notify(ctx, ev); deliverErr != nil {
			dead := m.Attempts+1 >= r.opts.MaxAttempts
			if err := r.store.MarkFailed(ctx, tx, m.ID, deliverErr.Error(), dead); err != nil {
				return 0, err
			}
			r.log.Warn(ctx, "outbox delivery failed", "id", m.ID, "topic", m.Topic, "attempt", m.Attempts+1, "dead", dead, "error", deliverErr)
			if r.observer != nil {
				r.observer.Failed(m.Topic, dead)
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID); err != nil {
			return 0, err
		}
		if r.observer != nil {
			r.observer.Delivered(m.Topic)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(msgs), nil
}
