package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/theirongolddev/ccmeter/internal/model"
)

func TestJournalAppendAndRead(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal"))
	if err != nil {
		t.Fatal(err)
	}

	if err := j.LogEvent("s1", map[string]any{"kind": "request"}); err != nil {
		t.Fatal(err)
	}
	for turn := 1; turn <= 3; turn++ {
		if err := j.Append(call("s1", turn, "m", 0)); err != nil {
			t.Fatal(err)
		}
	}

	calls, err := j.ReadCalls("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	for i, c := range calls {
		if c.Turn != i+1 {
			t.Errorf("calls[%d].Turn = %d", i, c.Turn)
		}
	}

	missing, err := j.ReadCalls("nope")
	if err != nil || missing != nil {
		t.Errorf("ReadCalls(missing) = %v, %v", missing, err)
	}
}

func TestJournalSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(call("s1", 1, "m", 0)); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(j.Path("s1"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"kind":"call","call":{"session_id":"s1","tu`)
	_ = f.Close()

	calls, err := j.ReadCalls("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Errorf("got %d calls, want 1", len(calls))
	}
}

func TestJournalPathIsSanitized(t *testing.T) {
	j := &Journal{dir: "/data"}
	if got := j.Path("../evil"); strings.Contains(filepath.Base(got), "/") || filepath.Dir(got) != "/data" {
		t.Errorf("Path escaped journal dir: %s", got)
	}
}

func TestJournalReplayIntoDB(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db := openTestDB(t)

	_ = j.Append(call("s1", 1, "m", 0))
	_ = j.Append(call("s1", 2, "m", 0))
	if err := db.Append(call("s1", 1, "m", 0)); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := j.Replay("s1", db); err != nil {
			t.Fatalf("Replay: %v", err)
		}
	}

	calls, err := db.ListCalls("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Errorf("got %d calls after replay, want 2", len(calls))
	}
}

type failSink struct{ err error }

func (f failSink) Append(model.APICall) error { return f.err }
func (f failSink) LogEvent(string, map[string]any) error { return f.err }

func TestFanoutContinuesPastFailure(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	f := Fanout{failSink{boom}, nil, j}

	err = f.Append(call("s1", 1, "m", 0))
	if !errors.Is(err, boom) {
		t.Errorf("Append err = %v, want boom", err)
	}
	calls, _ := j.ReadCalls("s1")
	if len(calls) != 1 {
		t.Errorf("journal has %d calls, want 1", len(calls))
	}

	if err := (Fanout{j}).LogEvent("s1", map[string]any{"kind": "x"}); err != nil {
		t.Errorf("LogEvent: %v", err)
	}
}
