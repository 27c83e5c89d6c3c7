package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - RunID: stamped on events that arrive without one.
//   - BufferSize: capacity of the lossy lane (default 4096).
//   - MaxBatchEvents: flush once this many events are pending (default 1000).
//   - FlushInterval: flush whatever is pending this often (default 500ms).
//   - SinkTimeout: per-sink deadline for one Consume call (default 10s).
//   - BaseContext: parent of sink contexts (default context.Background()).
//   - Logger: receives drop and sink warnings.
type Config struct {
	RunID          [16]byte
	BufferSize     int
	MaxBatchEvents int
	FlushInterval  time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultFlushInterval  = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans events out to sinks in batches. Emit never blocks.
//
// Events travel one of two lanes. Informational stages go through a bounded
// channel and are dropped (and counted) when it is full. Stages that carry
// run or site outcomes are never dropped: when the channel is full they are
// parked on an unbounded overflow list, which holds at most one SITE_DONE per
// site. Without backpressure both lanes preserve emission order.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events chan Event

	overflowMu sync.Mutex
	overflow   []Event
	wake       chan struct{}

	dropMu   sync.Mutex
	drops    map[Stage]int64
	dropped  atomic.Int64
	dropWarn rate.Sometimes

	closed   atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	closeCtx context.Context
}

// mustDeliver reports whether losing evt would corrupt the run's totals.
func mustDeliver(stage Stage) bool {
	switch stage {
	case StageRunStart, StageSiteDone, StageRunDone:
		return true
	default:
		return false
	}
}

// NewHub starts the batching goroutine. Close must be called to flush.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	h := newHub(cfg, make(chan Event, cfg.BufferSize), sinks...)
	go h.run()
	return h
}

func newHub(cfg Config, events chan Event, sinks ...Sink) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		logger:   logger,
		events:   events,
		wake:     make(chan struct{}, 1),
		drops:    make(map[Stage]int64),
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Emit stamps the run ID and timestamp when missing, validates evt, and
// queues it. Events emitted after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.RunID == [16]byte{} {
		evt.RunID = h.cfg.RunID
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	select {
	case h.events <- evt:
		return
	default:
	}
	if mustDeliver(evt.Stage) {
		h.park(evt)
		return
	}
	h.drop(evt.Stage)
}

func (h *Hub) park(evt Event) {
	h.overflowMu.Lock()
	h.overflow = append(h.overflow, evt)
	h.overflowMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) drop(stage Stage) {
	h.dropped.Add(1)
	h.dropMu.Lock()
	h.drops[stage]++
	h.dropMu.Unlock()
	h.dropWarn.Do(func() {
		h.logger.Warn("progress events dropped due to backpressure",
			zap.Any("by_stage", h.DroppedByStage()),
		)
	})
}

// Dropped returns how many informational events were lost to backpressure.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// DroppedByStage breaks Dropped down by stage.
func (h *Hub) DroppedByStage() map[Stage]int64 {
	if h == nil {
		return nil
	}
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	out := make(map[Stage]int64, len(h.drops))
	for stage, n := range h.drops {
		out[stage] = n
	}
	return out
}

// Close stops intake, flushes everything queued, closes the sinks, and
// waits for the batching goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			batch = h.add(batch, evt)
		case <-h.wake:
			batch = h.add(batch, h.takeOverflow()...)
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

// add appends evts, flushing each time the batch fills.
func (h *Hub) add(batch []Event, evts ...Event) []Event {
	for _, evt := range evts {
		batch = append(batch, evt)
		if len(batch) >= h.cfg.MaxBatchEvents {
			batch = h.flush(batch)
		}
	}
	return batch
}

func (h *Hub) takeOverflow() []Event {
	h.overflowMu.Lock()
	defer h.overflowMu.Unlock()
	out := h.overflow
	h.overflow = nil
	return out
}

// drain empties the channel, then the overflow list, and flushes. Emit is
// already refusing events, so both lanes only shrink.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = h.add(batch, evt)
		default:
			batch = h.add(batch, h.takeOverflow()...)
			h.flush(batch)
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(out)),
				zap.Error(err),
			)
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
