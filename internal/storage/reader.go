package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/klauspost/compress/zstd"
)

var ErrInvalidHeader = errors.New("invalid segment header")

const footerSize = 20

type SegmentReader struct {
	decoder *zstd.Decoder
}

func NewSegmentReader() (*SegmentReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &SegmentReader{decoder: dec}, nil
}

// ReadSegment returns every record stored in path.
func (sr *SegmentReader) ReadSegment(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return nil, ErrInvalidHeader
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < int64(len(MagicHeader)+4+footerSize) {
		return nil, errors.New("segment too small")
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, info.Size()-footerSize); err != nil {
		return nil, err
	}
	rowCount := int(binary.LittleEndian.Uint32(footer[0:4]))

	var size uint32
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(f, compressed); err != nil {
		return nil, err
	}
	raw, err := sr.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}

	records := make([]model.Record, 0, rowCount)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), len(raw)+1)
	for sc.Scan() {
		var rec model.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("decode record %d of %s: %w", len(records), path, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, err
	}

	if len(records) != rowCount {
		return records, fmt.Errorf("row count mismatch: footer %d, body %d", rowCount, len(records))
	}
	return records, nil
}
