package eventlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ForwarderOptions tune the outbox forwarder loop.
type ForwarderOptions struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func defaultForwarderOptions() ForwarderOptions {
	return ForwarderOptions{
		BatchSize:    50,
		PollInterval: 2 * time.Second,
		MaxAttempts:  5,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   5 * time.Minute,
	}
}

// ForwarderOption mutates the options.
type ForwarderOption func(*ForwarderOptions)

func WithBatchSize(n int) ForwarderOption {
	return func(o *ForwarderOptions) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) ForwarderOption {
	return func(o *ForwarderOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

func WithMaxAttempts(n int) ForwarderOption {
	return func(o *ForwarderOptions) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}

func WithMaxBackoff(d time.Duration) ForwarderOption {
	return func(o *ForwarderOptions) {
		if d > 0 {
			o.MaxBackoff = d
		}
	}
}

// Forwarder drains the outbox into the read-side store. It is the only
// component that writes to the read side; the gateway itself never reads
// from it.
type Forwarder struct {
	outbox  OutboxRepository
	applier Applier
	opts    ForwarderOptions
	log     zerolog.Logger
}

func NewForwarder(outbox OutboxRepository, applier Applier, log zerolog.Logger, options ...ForwarderOption) *Forwarder {
	opts := defaultForwarderOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Forwarder{outbox: outbox, applier: applier, opts: opts, log: log}
}

// Run polls until ctx is cancelled. Claim errors (primary store unreachable)
// back off exponentially instead of hot-looping.
func (f *Forwarder) Run(ctx context.Context) error {
	f.log.Info().
		Int("batch_size", f.opts.BatchSize).
		Dur("poll_interval", f.opts.PollInterval).
		Msg("outbox forwarder started")

	claimBackoff := backoff.NewExponentialBackOff()
	claimBackoff.InitialInterval = f.opts.PollInterval
	claimBackoff.MaxInterval = f.opts.MaxBackoff
	claimBackoff.MaxElapsedTime = 0 // never give up

	for {
		delivered, err := f.Cycle(ctx)
		if ctx.Err() != nil {
			f.log.Info().Msg("outbox forwarder stopping")
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = claimBackoff.NextBackOff()
			f.log.Error().Err(err).Dur("retry_in", wait).Msg("outbox claim failed")
		case delivered > 0:
			// Backlog present: drain without sleeping.
			claimBackoff.Reset()
			continue
		default:
			claimBackoff.Reset()
			wait = f.opts.PollInterval
		}

		select {
		case <-ctx.Done():
			f.log.Info().Msg("outbox forwarder stopping")
			return nil
		case <-time.After(wait):
		}
	}
}

// Cycle claims one batch and delivers it. Returns the number of rows
// successfully delivered.
func (f *Forwarder) Cycle(ctx context.Context) (int, error) {
	claimed, err := f.outbox.ClaimPending(ctx, f.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range claimed {
		if err := f.deliver(ctx, c); err == nil {
			delivered++
		}
		if ctx.Err() != nil {
			break
		}
	}
	return delivered, nil
}

func (f *Forwarder) deliver(ctx context.Context, c ClaimedRow) error {
	err := f.applier.Apply(ctx, c.Event)
	if err == nil {
		if markErr := f.outbox.MarkSent(ctx, c.Row.ID); markErr != nil {
			// The apply is idempotent; the row will be re-delivered and
			// marked on the next cycle.
			f.log.Warn().Err(markErr).Int64("outbox_id", c.Row.ID).Msg("mark sent failed")
		}
		return nil
	}

	attempts := c.Row.Attempts + 1
	if attempts >= f.opts.MaxAttempts {
		f.log.Error().Err(err).
			Str("event_id", c.Event.EventID).
			Int("attempts", attempts).
			Msg("outbox row dead-lettered")
		if markErr := f.outbox.MarkFailed(ctx, c.Row.ID, err.Error()); markErr != nil {
			f.log.Warn().Err(markErr).Int64("outbox_id", c.Row.ID).Msg("mark failed failed")
		}
		return err
	}

	next := time.Now().Add(f.RetryDelay(attempts))
	f.log.Warn().Err(err).
		Str("event_id", c.Event.EventID).
		Int("attempts", attempts).
		Time("next_attempt_at", next).
		Msg("outbox delivery failed, scheduling retry")
	if markErr := f.outbox.MarkRetry(ctx, c.Row.ID, attempts, next, err.Error()); markErr != nil {
		f.log.Warn().Err(markErr).Int64("outbox_id", c.Row.ID).Msg("mark retry failed")
	}
	return err
}

// RetryDelay is the exponential schedule for row retries: base doubled per
// attempt, capped at MaxBackoff.
func (f *Forwarder) RetryDelay(attempts int) time.Duration {
	d := f.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= f.opts.MaxBackoff {
			return f.opts.MaxBackoff
		}
	}
	if d > f.opts.MaxBackoff {
		return f.opts.MaxBackoff
	}
	return d
}
