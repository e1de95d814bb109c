package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cleaner removes segments whose newest record is older than Retention.
type Cleaner struct {
	Dir       string
	Retention time.Duration
	logger    *zap.Logger
}

func NewCleaner(dir string, retention time.Duration, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{Dir: dir, Retention: retention, logger: logger}
}

// RunCleaner purges on every tick until ctx is done.
func (c *Cleaner) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("cleaner started",
		zap.Duration("retention", c.Retention),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.Retention <= 0 {
				continue
			}
			c.Purge(now)
		}
	}
}

// Purge deletes expired segments and returns how many were removed.
func (c *Cleaner) Purge(now time.Time) int {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Error("read data dir", zap.String("dir", c.Dir), zap.Error(err))
		}
		return 0
	}

	threshold := now.Add(-c.Retention).UnixNano()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SegmentExt) {
			continue
		}
		name := entry.Name()
		_, maxTs, err := ParseSegmentName(name)
		if err != nil {
			continue
		}
		if maxTs >= threshold {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, name)); err != nil {
			c.logger.Error("delete expired segment", zap.String("file", name), zap.Error(err))
			continue
		}
		c.logger.Info("expired segment deleted", zap.String("file", name))
		removed++
	}
	return removed
}

// ParseSegmentName extracts the bounds from rec_{min}_{max}.seg.
func ParseSegmentName(name string) (minTs, maxTs int64, err error) {
	base := strings.TrimSuffix(name, SegmentExt)
	parts := strings.Split(base, "_")
	if len(parts) != 3 || parts[0] != "rec" {
		return 0, 0, fmt.Errorf("invalid segment name %q", name)
	}
	if minTs, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, err
	}
	if maxTs, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return 0, 0, err
	}
	return minTs, maxTs, nil
}
