package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/klauspost/compress/zstd"
)

// Segment header
var MagicHeader = []byte("LOGSHIM1")

const SegmentExt = ".seg"

// SegmentName is rec_{MinReceivedAt}_{MaxReceivedAt}.seg
func SegmentName(minTs, maxTs int64) string {
	return fmt.Sprintf("rec_%d_%d%s", minTs, maxTs, SegmentExt)
}

type SegmentWriter struct {
	encoder *zstd.Encoder
}

func NewSegmentWriter() (*SegmentWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &SegmentWriter{encoder: enc}, nil
}

// WriteSegment stores records in dir and returns the file path. Writing zero
// records is a no-op.
func (sw *SegmentWriter) WriteSegment(dir string, records []model.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	minTs, maxTs := bounds(records)
	path := filepath.Join(dir, SegmentName(minTs, maxTs))

	// Body: newline-delimited JSON, compressed as one block
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return "", fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
	}

	// Write to a temp name so a crash never leaves a half segment behind
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	if err := sw.writeAll(f, buf.Bytes(), uint32(len(records)), minTs, maxTs); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, os.Rename(tmp, path)
}

func (sw *SegmentWriter) writeAll(f *os.File, raw []byte, rowCount uint32, minTs, maxTs int64) error {
	// 1. Header
	if _, err := f.Write(MagicHeader); err != nil {
		return err
	}

	// 2. Compressed size (uint32) + data
	compressed := sw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
	if err := binary.Write(f, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	if _, err := f.Write(compressed); err != nil {
		return err
	}

	// 3. Footer: RowCount (4) + MinTs (8) + MaxTs (8)
	if err := binary.Write(f, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, maxTs)
}

func bounds(records []model.Record) (minTs, maxTs int64) {
	minTs, maxTs = records[0].ReceivedAt, records[0].ReceivedAt
	for _, r := range records[1:] {
		if r.ReceivedAt < minTs {
			minTs = r.ReceivedAt
		}
		if r.ReceivedAt > maxTs {
			maxTs = r.ReceivedAt
		}
	}
	return minTs, maxTs
}
