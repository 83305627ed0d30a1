package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeDocumentAtomic frames v's JSON encoding behind a 4-byte big-endian length
// prefix and writes it to path via write-temp-then-rename, the way the reference
// node's writeFileAtomic persists chainstate.json (§5: "write-replace semantics").
func writeDocumentAtomic(path string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// readDocument parses the length-prefixed document at path into v. A length prefix
// that does not match the remaining file size is treated as corruption (§4.6: "partial
// writes are detected by the length-prefix framing failing to parse").
func readDocument(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(raw) < 4 {
		return fmt.Errorf("document %s: truncated length prefix", path)
	}
	n := binary.BigEndian.Uint32(raw[:4])
	if uint64(n) != uint64(len(raw)-4) {
		return fmt.Errorf("document %s: length prefix %d does not match payload size %d", path, n, len(raw)-4)
	}
	if err := json.Unmarshal(raw[4:len(raw)], v); err != nil {
		return fmt.Errorf("document %s: %w", path, err)
	}
	return nil
}
