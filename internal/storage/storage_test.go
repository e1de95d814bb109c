package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(base int64) []model.Record {
	return []model.Record{
		{ID: "a", ReceivedAt: base, InstanceID: "i-1", Data: json.RawMessage(`"hello"`)},
		{ID: "b", ReceivedAt: base + 10, Data: json.RawMessage(`["x",1,null]`)},
		{ID: "c", ReceivedAt: base + 20, Remote: "10.0.0.1", Data: json.RawMessage(`{"k":"v"}`)},
	}
}

func TestSegment_WriteRead(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewSegmentWriter()
	require.NoError(t, err)
	sr, err := NewSegmentReader()
	require.NoError(t, err)

	in := sampleRecords(1000)
	path, err := sw.WriteSegment(dir, in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rec_1000_1020.seg"), path)

	out, err := sr.ReadSegment(path)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].ReceivedAt, out[i].ReceivedAt)
		assert.JSONEq(t, string(in[i].Data), string(out[i].Data))
	}
	assert.Equal(t, "10.0.0.1", out[2].Remote)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSegment_EmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewSegmentWriter()
	require.NoError(t, err)

	path, err := sw.WriteSegment(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSegment_InvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec_1_2.seg")
	require.NoError(t, os.WriteFile(path, []byte("BADMAGIC-and-some-more-bytes-here"), 0644))

	sr, err := NewSegmentReader()
	require.NoError(t, err)
	_, err = sr.ReadSegment(path)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestParseSegmentName(t *testing.T) {
	minTs, maxTs, err := ParseSegmentName("rec_5_9.seg")
	require.NoError(t, err)
	assert.Equal(t, int64(5), minTs)
	assert.Equal(t, int64(9), maxTs)

	for _, bad := range []string{"log_1_2.seg", "rec_1.seg", "rec_a_2.seg", "rec_1_b.seg"} {
		_, _, err := ParseSegmentName(bad)
		assert.Error(t, err, bad)
	}
}

func TestCleaner_Purge(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-2 * time.Hour).UnixNano()
	fresh := now.Add(-10 * time.Minute).UnixNano()

	sw, err := NewSegmentWriter()
	require.NoError(t, err)
	oldPath, err := sw.WriteSegment(dir, sampleRecords(old))
	require.NoError(t, err)
	freshPath, err := sw.WriteSegment(dir, sampleRecords(fresh))
	require.NoError(t, err)
	stray := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0644))

	c := NewCleaner(dir, time.Hour, nil)
	assert.Equal(t, 1, c.Purge(now))

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
	assert.FileExists(t, stray)
}

func TestCleaner_MissingDir(t *testing.T) {
	c := NewCleaner(filepath.Join(t.TempDir(), "nope"), time.Hour, nil)
	assert.Equal(t, 0, c.Purge(time.Now()))
}
