package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/roach88/claimgov/internal/model"
)

// maxLineSize bounds a single JSONL entry.
const maxLineSize = 4 << 20

// FileLog is a JSON Lines transition log: one entry per line, appended and
// fsynced, never rewritten. The file is loaded and chain-verified on open.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Only one process may append to a file at a time.
type FileLog struct {
	mu      sync.RWMutex
	path    string
	f       *os.File
	seq     *Sequence
	entries []model.LogEntry

	// sync flushes f; replaced in tests.
	sync func(*os.File) error
	// broken is set when a failed append could not be rolled back.
	broken error
}

// OpenFile opens or creates the log at path.
func OpenFile(path string) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("open file log: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open file log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file log: %w", err)
	}

	entries, err := readJSONL(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := VerifyChain(entries); err != nil {
		f.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var last int64
	if n := len(entries); n > 0 {
		last = entries[n-1].Seq
	}
	return &FileLog{
		path:    path,
		f:       f,
		seq:     NewSequenceAt(last),
		entries: entries,
		sync:    (*os.File).Sync,
	}, nil
}

func readJSONL(f *os.File) ([]model.LogEntry, error) {
	var entries []model.LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e model.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if e.Decision.Reasons == nil {
			e.Decision.Reasons = []string{}
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *FileLog) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken != nil {
		return entry, fmt.Errorf("append entry: %w", l.broken)
	}

	prev := model.GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	entry.Seq = l.seq.Current() + 1
	entry.Decision.Reasons = slices.Clone(entry.Decision.Reasons)
	if entry.Decision.Reasons == nil {
		entry.Decision.Reasons = []string{}
	}
	sealed, err := entry.Seal(prev)
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}

	line, err := json.Marshal(sealed)
	if err != nil {
		return entry, fmt.Errorf("append entry: encode: %w", err)
	}
	info, err := l.f.Stat()
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return entry, l.rollback(info.Size(), fmt.Errorf("append entry: write: %w", err))
	}
	if err := l.sync(l.f); err != nil {
		return entry, l.rollback(info.Size(), fmt.Errorf("append entry: sync: %w", err))
	}

	l.seq.Next()
	l.entries = append(l.entries, sealed)
	return sealed, nil
}

// rollback truncates a partially appended line so the next append reuses
// its seq against an intact chain. If truncation fails the log refuses
// further appends.
func (l *FileLog) rollback(size int64, cause error) error {
	if err := l.f.Truncate(size); err != nil {
		l.broken = fmt.Errorf("log unusable after failed append: %w", cause)
		return fmt.Errorf("%w (truncate: %v)", cause, err)
	}
	return cause
}

func (l *FileLog) ReadAll(ctx context.Context, claimID string) ([]model.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filterEntries(l.entries, claimID), nil
}

func (l *FileLog) LatestState(ctx context.Context, claimID string) (model.Claim, error) {
	return latestState(ctx, l, claimID)
}

func (l *FileLog) Head(ctx context.Context) (model.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return model.LogEntry{}, ErrNotFound
	}
	return l.entries[len(l.entries)-1], nil
}

// Path returns the file backing the log.
func (l *FileLog) Path() string { return l.path }

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
