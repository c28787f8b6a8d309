// Package ingestor implements the single-threaded, cooperative event
// dispatch engine described in spec.md §4.1: it consumes the
// totally-ordered record stream, hands each record to every registered
// strategy with bounded retry, drives the periodic oracle refresh and
// heartbeat, and runs the startup discovery sweep.
package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/blackhole-labs/blend-liquidator/internal/chainrpc"
	"github.com/blackhole-labs/blend-liquidator/pkg/errorlog"
)

const (
	defaultMaxRetries     = 100
	defaultRetryPause     = 500 * time.Millisecond
	oracleRefreshInterval = 10
)

// Strategy is the contract every consumer of the event stream
// implements. ProcessEvent handles a single decoded record; OnBlock
// fires once per block-boundary record, in stream order, and
// drives both the liquidator's per-auction timing re-check (§4.6) and
// the auctioneer's 10-block oracle-refresh sweep (§4.5).
type Strategy interface {
	Name() string
	ProcessEvent(ctx context.Context, ev Event) error
	OnBlock(ctx context.Context, block uint32) error
}

// Bootstrapper is implemented by a Strategy that needs a one-time
// startup discovery sweep before the live event stream is consumed
// (spec.md §4 supplemented feature: load_reserve_config/fetch_users).
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// Heartbeater is implemented by the storage adapter: overwritten every
// block with the current block number (spec.md §6).
type Heartbeater interface {
	Heartbeat(block uint32) error
}

// Record is one entry of the totally-ordered (block_number, event_index)
// stream. A record is either an event (Raw set) or a block boundary: a
// block-boundary record carries no Raw event and IsBlockBoundary is true.
type Record struct {
	Block           uint32
	IsBlockBoundary bool
	Raw             chainrpc.ContractEventRecord
}

// Option configures an Ingestor, matching the functional-options style
// used for the chain's poll-driven listener.
type Option func(*Ingestor)

// WithMaxRetries overrides the bounded-retry ceiling (default 100, per
// spec.md §4.1).
func WithMaxRetries(n int) Option {
	return func(i *Ingestor) { i.maxRetries = n }
}

// WithRetryPause overrides the pause between retry attempts (default
// ~500ms, per spec.md §4.1).
func WithRetryPause(d time.Duration) Option {
	return func(i *Ingestor) { i.retryPause = d }
}

// WithOracleRefreshInterval stores N for "every N blocks" (default 10,
// per spec.md §4.1/§4.5). Dispatch does not read it: every block-boundary
// record reaches each strategy's OnBlock, and the refresh interval in
// force is the one each strategy was constructed with.
func WithOracleRefreshInterval(n uint32) Option {
	return func(i *Ingestor) { i.oracleRefreshInterval = n }
}

// Ingestor dispatches a record stream to a fixed set of strategies.
type Ingestor struct {
	strategies            []Strategy
	heartbeat             Heartbeater
	errlog                *errorlog.Log
	maxRetries            int
	retryPause            time.Duration
	oracleRefreshInterval uint32
}

// New constructs an Ingestor over the given strategies.
func New(strategies []Strategy, heartbeat Heartbeater, errlog *errorlog.Log, opts ...Option) *Ingestor {
	ing := &Ingestor{
		strategies:            strategies,
		heartbeat:             heartbeat,
		errlog:                errlog,
		maxRetries:            defaultMaxRetries,
		retryPause:            defaultRetryPause,
		oracleRefreshInterval: oracleRefreshInterval,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Bootstrap runs each strategy's one-time startup discovery sweep, in
// registration order, before the live stream is consumed.
func (ing *Ingestor) Bootstrap(ctx context.Context) error {
	for _, s := range ing.strategies {
		b, ok := s.(Bootstrapper)
		if !ok {
			continue
		}
		if err := b.Bootstrap(ctx); err != nil {
			return fmt.Errorf("ingestor: bootstrap %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Run consumes records until ctx is cancelled or the channel closes. A
// handler failure is retried up to maxRetries times with retryPause
// between attempts; on exhaustion the failure is logged durably and the
// record is skipped for that strategy, per spec.md §4.1's "repeated
// poison must not halt the pipeline."
func (ing *Ingestor) Run(ctx context.Context, records <-chan Record) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := ing.dispatch(ctx, rec); err != nil {
				return err
			}
		}
	}
}

func (ing *Ingestor) dispatch(ctx context.Context, rec Record) error {
	if rec.IsBlockBoundary {
		if ing.heartbeat != nil {
			if err := ing.heartbeat.Heartbeat(rec.Block); err != nil {
				return fmt.Errorf("ingestor: write heartbeat: %w", err)
			}
		}
		for _, s := range ing.strategies {
			ing.withRetry(ctx, rec, s.Name(), func() error {
				return s.OnBlock(ctx, rec.Block)
			})
		}
		return nil
	}

	ev, err := DecodeEvent(rec.Raw)
	if err != nil {
		ing.recordFailure(rec, "decoder", 0, err)
		return nil
	}

	for _, s := range ing.strategies {
		strategy := s
		ing.withRetry(ctx, rec, strategy.Name(), func() error {
			return strategy.ProcessEvent(ctx, ev)
		})
	}
	return nil
}

// withRetry runs fn up to maxRetries+1 times, pausing retryPause between
// attempts, and logs+skips on exhaustion. It never returns an error: a
// poison event must not halt the pipeline for other strategies or later
// records.
func (ing *Ingestor) withRetry(ctx context.Context, rec Record, component string, fn func() error) {
	var lastErr error
	for attempt := 0; attempt <= ing.maxRetries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt < ing.maxRetries {
				select {
				case <-ctx.Done():
					return
				case <-time.After(ing.retryPause):
				}
			}
			continue
		}
		return
	}
	ing.recordFailure(rec, component, ing.maxRetries, lastErr)
}

func (ing *Ingestor) recordFailure(rec Record, component string, retries int, err error) {
	if ing.errlog == nil {
		return
	}
	_ = ing.errlog.Record(errorlog.Entry{
		Time:    time.Now(),
		Topic:   component + ":" + rec.Raw.Topic,
		Block:   rec.Block,
		Index:   rec.Raw.Index,
		Retries: retries,
		Err:     err,
	})
}
