package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"expertflow/db/dbtest"
	"expertflow/notify"
)

type fakeStore struct {
	pending   []Message
	processed []string
	failed    map[string]bool
}

func (f *fakeStore) ClaimPending(_ context.Context, _ pgx.Tx, limit int) ([]Message, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, _ pgx.Tx, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, _ pgx.Tx, id string, _ string, dead bool) error {
	if f.failed == nil {
		f.failed = map[string]bool{}
	}
	f.failed[id] = dead
	return nil
}

type topicSink struct {
	failTopic string
	seen      []string
}

func (s *topicSink) Notify(_ context.Context, ev notify.Event) error {
	s.seen = append(s.seen, ev.Topic)
	if ev.Topic == s.failTopic {
		return errors.New("webhook unreachable")
	}
	return nil
}

type countingObserver struct {
	delivered, failed, dead int
}

func (c *countingObserver) Delivered(string) { c.delivered++ }
func (c *countingObserver) Failed(_ string, dead bool) {
	c.failed++
	if dead {
		c.dead++
	}
}

func TestRelay_DrainOnce(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: TopicContractCreated, Payload: json.RawMessage(`{}`)},
		{ID: "m2", Topic: TopicPasswordReset, Payload: json.RawMessage(`{}`), Attempts: 0},
		{ID: "m3", Topic: TopicPasswordReset, Payload: json.RawMessage(`{}`), Attempts: 2},
	}}
	sink := &topicSink{failTopic: TopicPasswordReset}
	pool := &dbtest.Pool{}
	obs := &countingObserver{}

	relay := NewRelay(pool, store, sink, nil, RelayOptions{MaxAttempts: 3}).WithObserver(obs)

	n, err := relay.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 handled, got %d", n)
	}
	if len(store.processed) != 1 || store.processed[0] != "m1" {
		t.Fatalf("expected only m1 processed, got %v", store.processed)
	}
	if dead, ok := store.failed["m2"]; !ok || dead {
		t.Fatalf("expected m2 to stay pending for retry, got dead=%v ok=%v", dead, ok)
	}
	if dead := store.failed["m3"]; !dead {
		t.Fatal("expected m3 to be dead after exhausting attempts")
	}
	if !pool.Last().Committed {
		t.Fatal("expected drain transaction to commit")
	}
	if obs.delivered != 1 || obs.failed != 2 || obs.dead != 1 {
		t.Fatalf("unexpected observer counts %+v", obs)
	}
}

func TestRelay_BeginFailure(t *testing.T) {
	pool := &dbtest.Pool{BeginErr: errors.New("db down")}
	relay := NewRelay(pool, &fakeStore{}, &topicSink{}, nil, RelayOptions{})

	if _, err := relay.DrainOnce(context.Background()); err == nil {
		t.Fatal("expected begin error")
	}
}
