package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	queue   []ClaimedRow
	sent    []int64
	retries []retryMark
	failed  []int64
}

type retryMark struct {
	id          int64
	attempts    int
	nextAttempt time.Time
	lastError   string
}

func (f *fakeOutbox) ClaimPending(_ context.Context, limit int) ([]ClaimedRow, error) {
	if limit > len(f.queue) {
		limit = len(f.queue)
	}
	batch := f.queue[:limit]
	f.queue = f.queue[limit:]
	return batch, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkRetry(_ context.Context, id int64, attempts int, nextAttempt time.Time, lastError string) error {
	f.retries = append(f.retries, retryMark{id, attempts, nextAttempt, lastError})
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id int64, _ string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) Depth(context.Context) (Depth, error) {
	return Depth{Pending: int64(len(f.queue)), Failed: int64(len(f.failed))}, nil
}

type fakeApplier struct {
	applied []string
	fail    map[string]error
}

func (f *fakeApplier) Apply(_ context.Context, event Event) error {
	if err, ok := f.fail[event.EventID]; ok {
		return err
	}
	f.applied = append(f.applied, event.EventID)
	return nil
}

func claimed(id int64, eventID string, attempts int) ClaimedRow {
	return ClaimedRow{
		Row:   OutboxRow{ID: id, EventID: eventID, Status: OutboxPending, Attempts: attempts},
		Event: Event{EventID: eventID, AggregateType: AggregateUser, AggregateID: "u-1", Version: 1, EventType: EventUserUpserted},
	}
}

func TestCycleDeliversAndMarksSent(t *testing.T) {
	outbox := &fakeOutbox{queue: []ClaimedRow{claimed(1, "ev-1", 0), claimed(2, "ev-2", 0)}}
	applier := &fakeApplier{}
	fwd := NewForwarder(outbox, applier, zerolog.Nop())

	n, err := fwd.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ev-1", "ev-2"}, applier.applied)
	assert.Equal(t, []int64{1, 2}, outbox.sent)
	assert.Empty(t, outbox.retries)
	assert.Empty(t, outbox.failed)
}

func TestCycleSchedulesRetryOnApplyFailure(t *testing.T) {
	outbox := &fakeOutbox{queue: []ClaimedRow{claimed(1, "ev-bad", 0), claimed(2, "ev-ok", 0)}}
	applier := &fakeApplier{fail: map[string]error{"ev-bad": errors.New("readside unreachable")}}
	fwd := NewForwarder(outbox, applier, zerolog.Nop())

	before := time.Now()
	n, err := fwd.Cycle(context.Background())
	require.NoError(t, err)

	// The healthy row still lands; the bad one goes on the retry schedule.
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2}, outbox.sent)
	require.Len(t, outbox.retries, 1)
	mark := outbox.retries[0]
	assert.Equal(t, int64(1), mark.id)
	assert.Equal(t, 1, mark.attempts)
	assert.Equal(t, "readside unreachable", mark.lastError)
	assert.True(t, mark.nextAttempt.After(before))
	assert.Empty(t, outbox.failed)
}

func TestCycleDeadLettersAfterMaxAttempts(t *testing.T) {
	outbox := &fakeOutbox{queue: []ClaimedRow{claimed(7, "ev-doomed", 2)}}
	applier := &fakeApplier{fail: map[string]error{"ev-doomed": errors.New("bad payload")}}
	fwd := NewForwarder(outbox, applier, zerolog.Nop(), WithMaxAttempts(3))

	n, err := fwd.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int64{7}, outbox.failed)
	assert.Empty(t, outbox.retries)
}

func TestCycleRespectsBatchSize(t *testing.T) {
	outbox := &fakeOutbox{queue: []ClaimedRow{claimed(1, "ev-1", 0), claimed(2, "ev-2", 0), claimed(3, "ev-3", 0)}}
	applier := &fakeApplier{}
	fwd := NewForwarder(outbox, applier, zerolog.Nop(), WithBatchSize(2))

	n, err := fwd.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, outbox.queue, 1)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	fwd := NewForwarder(&fakeOutbox{}, &fakeApplier{}, zerolog.Nop(),
		WithMaxBackoff(30*time.Second))
	// BaseBackoff defaults to 2s.
	assert.Equal(t, 2*time.Second, fwd.RetryDelay(1))
	assert.Equal(t, 4*time.Second, fwd.RetryDelay(2))
	assert.Equal(t, 8*time.Second, fwd.RetryDelay(3))
	assert.Equal(t, 16*time.Second, fwd.RetryDelay(4))
	assert.Equal(t, 30*time.Second, fwd.RetryDelay(5))
	assert.Equal(t, 30*time.Second, fwd.RetryDelay(12))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	outbox := &fakeOutbox{}
	fwd := NewForwarder(outbox, &fakeApplier{}, zerolog.Nop(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after cancel")
	}
}
