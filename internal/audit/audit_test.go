package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merenda/internal/audit"
	id "merenda/pkg/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(action audit.Action, lineID id.LineID) audit.Event {
	return audit.Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		LineID:    lineID,
		Operator:  "nutri-1",
	}
}

func TestWorkerDrainsInbox(t *testing.T) {
	store := audit.NewMemoryStore()
	pub := audit.NewChannelPublisher(16, discard())
	worker := audit.NewWorker(store, pub.Inbox(), discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	lineID := id.NewLineID()
	pub.Publish(event(audit.ActionGenerated, lineID))
	pub.Publish(event(audit.ActionSubstitutionApplied, lineID))
	pub.Publish(event(audit.ActionReleased, lineID))

	require.Eventually(t, func() bool {
		events, err := store.ListByLine(context.Background(), lineID)
		return err == nil && len(events) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	events, err := store.ListByLine(context.Background(), lineID)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionGenerated, events[0].Action)
	assert.Equal(t, audit.ActionReleased, events[2].Action)
}

func TestWorkerFlushesBufferedEventsOnShutdown(t *testing.T) {
	store := audit.NewMemoryStore()
	pub := audit.NewChannelPublisher(16, discard())
	worker := audit.NewWorker(store, pub.Inbox(), discard())

	// Events queued before the worker ever runs.
	lineID := id.NewLineID()
	pub.Publish(event(audit.ActionExcluded, lineID))
	pub.Publish(event(audit.ActionCorrected, lineID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = worker.Run(ctx)

	events, err := store.ListByLine(context.Background(), lineID)
	require.NoError(t, err)
	assert.Len(t, events, 2, "shutdown must flush the inbox")
}

func TestPublisherDropsWhenFull(t *testing.T) {
	pub := audit.NewChannelPublisher(1, discard())

	pub.Publish(event(audit.ActionGenerated, id.NewLineID()))
	// Second publish must not block even though nothing consumes the inbox.
	finished := make(chan struct{})
	go func() {
		pub.Publish(event(audit.ActionGenerated, id.NewLineID()))
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full inbox")
	}
}

type failingStore struct {
	calls int
}

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestWorkerSurvivesStoreFailures(t *testing.T) {
	store := &failingStore{}
	pub := audit.NewChannelPublisher(16, discard())
	worker := audit.NewWorker(store, pub.Inbox(), discard())

	pub.Publish(event(audit.ActionGenerated, id.NewLineID()))
	pub.Publish(event(audit.ActionGenerated, id.NewLineID()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = worker.Run(ctx)

	assert.Equal(t, 2, store.calls, "both events attempted despite failures")
}
