package ingestor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackhole-labs/blend-liquidator/internal/chainrpc"
	"github.com/blackhole-labs/blend-liquidator/pkg/errorlog"
)

type fakeStrategy struct {
	mu          sync.Mutex
	name        string
	failUntil   int
	calls       int
	lastEvent   Event
	blockTicks  []uint32
	bootstrapped bool
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) ProcessEvent(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastEvent = ev
	if f.calls <= f.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

func (f *fakeStrategy) OnBlock(ctx context.Context, block uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockTicks = append(f.blockTicks, block)
	return nil
}

func (f *fakeStrategy) Bootstrap(ctx context.Context) error {
	f.bootstrapped = true
	return nil
}

type fakeHeartbeat struct {
	mu     sync.Mutex
	blocks []uint32
}

func (h *fakeHeartbeat) Heartbeat(block uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks = append(h.blocks, block)
	return nil
}

func TestIngestor_DispatchesEventsInOrderToAllStrategies(t *testing.T) {
	s1 := &fakeStrategy{name: "auctioneer"}
	s2 := &fakeStrategy{name: "liquidator"}
	hb := &fakeHeartbeat{}
	ing := New([]Strategy{s1, s2}, hb, nil)

	records := make(chan Record, 4)
	records <- Record{Block: 1, Raw: chainrpc.ContractEventRecord{Block: 1, Topic: TopicSetReserve, Fields: []interface{}{common.HexToAddress("0xA1")}}}
	close(records)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ing.Run(ctx, records))

	assert.Equal(t, 1, s1.calls)
	assert.Equal(t, 1, s2.calls)
}

func TestIngestor_BlockBoundaryWritesHeartbeatAndTicksStrategies(t *testing.T) {
	s1 := &fakeStrategy{name: "auctioneer"}
	hb := &fakeHeartbeat{}
	ing := New([]Strategy{s1}, hb, nil)

	records := make(chan Record, 1)
	records <- Record{Block: 55, IsBlockBoundary: true}
	close(records)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ing.Run(ctx, records))

	assert.Equal(t, []uint32{55}, hb.blocks)
	assert.Equal(t, []uint32{55}, s1.blockTicks)
}

func TestIngestor_RetriesTransientFailureThenSucceeds(t *testing.T) {
	s1 := &fakeStrategy{name: "auctioneer", failUntil: 2}
	ing := New([]Strategy{s1}, nil, nil, WithRetryPause(time.Millisecond))

	records := make(chan Record, 1)
	records <- Record{Raw: chainrpc.ContractEventRecord{Topic: TopicSetReserve, Fields: []interface{}{common.HexToAddress("0xA1")}}}
	close(records)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ing.Run(ctx, records))

	assert.Equal(t, 3, s1.calls) // 2 failures + 1 success
}

func TestIngestor_ExhaustsRetriesAndLogsWithoutHaltingPipeline(t *testing.T) {
	dir := t.TempDir()
	errlog, err := errorlog.Open(dir)
	require.NoError(t, err)
	defer errlog.Close()

	poison := &fakeStrategy{name: "auctioneer", failUntil: 1000}
	ing := New([]Strategy{poison}, nil, errlog, WithMaxRetries(2), WithRetryPause(time.Millisecond))

	records := make(chan Record, 2)
	records <- Record{Raw: chainrpc.ContractEventRecord{Topic: TopicSetReserve, Fields: []interface{}{common.HexToAddress("0xA1")}}}
	records <- Record{Raw: chainrpc.ContractEventRecord{Topic: TopicBadDebt, Fields: []interface{}{common.HexToAddress("0xB1")}}}
	close(records)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ing.Run(ctx, records))

	// 3 attempts (maxRetries=2 -> 3 total) per record, 2 records.
	assert.Equal(t, 6, poison.calls)
}

func TestIngestor_Bootstrap_CallsOnlyBootstrappers(t *testing.T) {
	s1 := &fakeStrategy{name: "auctioneer"}
	ing := New([]Strategy{s1}, nil, nil)
	require.NoError(t, ing.Bootstrap(context.Background()))
	assert.True(t, s1.bootstrapped)
}

func TestDecodeFailure_SkippedWithoutHalting(t *testing.T) {
	s1 := &fakeStrategy{name: "auctioneer"}
	ing := New([]Strategy{s1}, nil, nil)

	records := make(chan Record, 1)
	records <- Record{Raw: chainrpc.ContractEventRecord{Topic: "not_a_real_topic"}}
	close(records)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ing.Run(ctx, records))
	assert.Equal(t, 0, s1.calls)
}
