package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "audit-"
	fileSuffix = ".log"
)

// FileStore writes one JSON line per entry into a file per UTC day.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) pathFor(at time.Time) string {
	return filepath.Join(s.dir, filePrefix+at.UTC().Format("2006-01-02")+fileSuffix)
}

func (s *FileStore) Append(_ context.Context, line []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.pathFor(at), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Query scans day files newest first and stops once the page is full.
func (s *FileStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	files, err := s.dayFiles()
	if err != nil {
		return nil, err
	}
	limit := f.limit()
	out := make([]Entry, 0, limit)

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readEntries(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			if f.Match(entries[i]) {
				out = append(out, entries[i])
			}
		}
		if len(out) >= limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) dayFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var names []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	// ISO dates sort lexically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		// a torn final line is skipped rather than failing the query
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return entries, nil
}
