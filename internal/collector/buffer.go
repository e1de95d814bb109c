package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/coffersTech/logshim/internal/storage"
	"go.uber.org/zap"
)

const DefaultMaxRecords = 100_000

// Buffer holds received records in memory until they are flushed to a
// segment file. It never holds more than its capacity.
type Buffer struct {
	mu      sync.RWMutex
	records []model.Record
	max     int
	dropped atomic.Int64

	dir    string
	writer *storage.SegmentWriter
	logger *zap.Logger
}

type BufferOption func(*Buffer)

// WithMaxRecords caps the buffer. Zero or less keeps DefaultMaxRecords.
func WithMaxRecords(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.max = n
		}
	}
}

// NewBuffer flushes into dir through w. A nil writer keeps records in memory
// only, up to the capacity.
func NewBuffer(dir string, w *storage.SegmentWriter, logger *zap.Logger, opts ...BufferOption) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffer{dir: dir, writer: w, logger: logger, max: DefaultMaxRecords}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds rec, or reports false when the buffer is full.
func (b *Buffer) Append(rec model.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) >= b.max {
		return false
	}
	b.records = append(b.records, rec)
	return true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

func (b *Buffer) Cap() int {
	return b.max
}

// Dropped counts records lost because a failed flush could not put them back.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Recent returns up to limit of the newest buffered records, oldest first.
func (b *Buffer) Recent(limit int) []model.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if limit > 0 && len(b.records) > limit {
		start = len(b.records) - limit
	}
	out := make([]model.Record, len(b.records)-start)
	copy(out, b.records[start:])
	return out
}

// Flush writes the buffered records as one segment. The lock is only held to
// take the records, so appends continue during the write. On a write error
// the records go back in front of newer ones, as far as capacity allows.
func (b *Buffer) Flush() error {
	if b.writer == nil {
		return nil
	}

	b.mu.Lock()
	pending := b.records
	b.records = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	path, err := b.writer.WriteSegment(b.dir, pending)
	if err != nil {
		b.restore(pending)
		return fmt.Errorf("flush %d records: %w", len(pending), err)
	}
	b.logger.Info("segment written", zap.String("file", path), zap.Int("records", len(pending)))
	return nil
}

func (b *Buffer) restore(pending []model.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := append(pending, b.records...)
	if over := len(merged) - b.max; over > 0 {
		// oldest go first
		merged = merged[over:]
		b.dropped.Add(int64(over))
		b.logger.Warn("buffer full, dropping records", zap.Int("dropped", over))
	}
	b.records = merged
}

// RunFlusher flushes on every tick, and once more when ctx is done.
func (b *Buffer) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := b.Flush(); err != nil {
				b.logger.Error("final flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.logger.Error("flush failed", zap.Error(err))
			}
		}
	}
}
