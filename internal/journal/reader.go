package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// Filter selects events when reading a journal. Empty fields match anything.
type Filter struct {
	Agent string
	Kind  Kind
}

func (f Filter) match(e Event) bool {
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}

// ReadFile decodes one journal file. A truncated final line (a crash mid
// write) ends the read without error.
func ReadFile(path string, f Filter) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil && len(out) == 0 {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// ReadDir decodes every journal file under dir in chronological order.
func ReadDir(dir string, f Filter) ([]Event, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []Event
	for _, p := range paths {
		evs, err := ReadFile(p, f)
		if err != nil {
			return out, err
		}
		out = append(out, evs...)
	}
	return out, nil
}
