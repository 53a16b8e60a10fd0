package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"threatpipe/internal/indicator"
)

// Cold is the archival tier: append-only zstd-compressed JSON-lines
// segments. Detection never reads it; audit and report tooling do.
type Cold struct {
	dir string
	mu  sync.Mutex
}

// OpenCold creates the cold tier directory if needed.
func OpenCold(dir string) (*Cold, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cold tier dir: %w", err)
	}
	return &Cold{dir: dir}, nil
}

// Append writes the indicators as one new segment and returns the segment
// name. Segments are never rewritten.
func (c *Cold) Append(inds []indicator.Indicator) (string, error) {
	if len(inds) == 0 {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	name := fmt.Sprintf("segment-%d.ndjson.zst", time.Now().UnixNano())
	f, err := os.Create(filepath.Join(c.dir, name))
	if err != nil {
		return "", fmt.Errorf("create segment: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	for _, ind := range inds {
		line, err := json.Marshal(ind)
		if err != nil {
			continue
		}
		if _, err := enc.Write(append(line, '\n')); err != nil {
			enc.Close()
			f.Close()
			return "", fmt.Errorf("write segment: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("flush segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close segment: %w", err)
	}
	return name, nil
}

// Segments lists archived segment names, oldest first.
func (c *Cold) Segments() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".ndjson.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadSegment decompresses a segment for audit tooling.
func (c *Cold) ReadSegment(name string) ([]indicator.Indicator, error) {
	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var out []indicator.Indicator
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ind indicator.Indicator
		if err := json.Unmarshal(sc.Bytes(), &ind); err != nil {
			continue
		}
		out = append(out, ind)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	return out, nil
}
