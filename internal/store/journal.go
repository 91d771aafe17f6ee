package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"
)

// Journal appends records to one JSONL file per session. Each append is
// written and fsynced before it returns, so a record survives the process
// exiting right after.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// journalLine is one line of a session journal.
type journalLine struct {
	Kind  string         `json:"kind"`
	Time  time.Time      `json:"time"`
	Call  *model.APICall `json:"call,omitempty"`
	Event map[string]any `json:"event,omitempty"`
}

// OpenJournal creates dir if needed and returns a journal writing into it.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Path returns the journal file for a session.
func (j *Journal) Path(sessionID string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, sessionID)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(j.dir, name+".jsonl")
}

// Append implements engine.Sink.
func (j *Journal) Append(c model.APICall) error {
	return j.write(c.SessionID, journalLine{Kind: "call", Time: time.Now().UTC(), Call: &c})
}

// LogEvent implements engine.Sink.
func (j *Journal) LogEvent(sessionID string, entry map[string]any) error {
	return j.write(sessionID, journalLine{Kind: "event", Time: time.Now().UTC(), Event: entry})
}

func (j *Journal) write(sessionID string, line journalLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding journal line: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.Path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	return f.Close()
}

// ReadCalls returns the call records in a session journal, in file order.
// Malformed lines, such as one torn by a crash mid-write, are skipped.
func (j *Journal) ReadCalls(sessionID string) ([]model.APICall, error) {
	f, err := os.Open(j.Path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readCalls(f)
}

func readCalls(r io.Reader) ([]model.APICall, error) {
	var calls []model.APICall
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var line journalLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Kind == "call" && line.Call != nil {
			calls = append(calls, *line.Call)
		}
	}
	return calls, sc.Err()
}

// Replay appends every journaled call for a session into db. Calls already
// stored are ignored by db, so replay can run any number of times.
func (j *Journal) Replay(sessionID string, db *DB) (int, error) {
	calls, err := j.ReadCalls(sessionID)
	if err != nil {
		return 0, err
	}
	for _, c := range calls {
		if err := db.Append(c); err != nil {
			return 0, fmt.Errorf("replaying turn %d: %w", c.Turn, err)
		}
	}
	return len(calls), nil
}
