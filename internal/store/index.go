package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/coldvault/coldvault/internal/fsio"
)

// The .idx file is a flat sequence of big-endian uint64 byte offsets into
// the entity's .log file, one per record in append order. It is derived
// state: rebuildIndex regenerates it from the log alone.

const indexEntrySize = 8

// appendIndexEntry appends one record offset to the index file.
func appendIndexEntry(idxPath string, offset int64) error {
	var buf [indexEntrySize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	if _, err := fsio.AppendFile(idxPath, buf[:], 0o644); err != nil {
		return fmt.Errorf("append index entry: %w", err)
	}
	return nil
}

// readIndex returns every record offset in the index file, in order.
func readIndex(idxPath string) ([]int64, error) {
	data, err := os.ReadFile(idxPath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(data)%indexEntrySize != 0 {
		return nil, fmt.Errorf("index %s corrupt: %d bytes not a multiple of %d", idxPath, len(data), indexEntrySize)
	}

	offsets := make([]int64, 0, len(data)/indexEntrySize)
	for i := 0; i < len(data); i += indexEntrySize {
		offsets = append(offsets, int64(binary.BigEndian.Uint64(data[i:i+indexEntrySize])))
	}
	return offsets, nil
}

// rebuildIndex rescans the record log and atomically rewrites the index
// file. The log is the source of truth, so this is always safe.
func rebuildIndex(logPath, idxPath string) error {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	var offset int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	for scanner.Scan() {
		var entry [indexEntrySize]byte
		binary.BigEndian.PutUint64(entry[:], uint64(offset))
		buf.Write(entry[:])
		offset += int64(len(scanner.Bytes())) + 1 // +1 for the newline
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan log: %w", err)
	}

	return fsio.AtomicWriteFile(idxPath, buf.Bytes(), 0o644)
}
