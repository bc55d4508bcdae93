package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterRecordsEntries(t *testing.T) {
	dir := t.TempDir()
	w := Open(dir, "chatcmpl-abc", nil)
	if w == nil {
		t.Fatal("Open returned nil")
	}
	w.Record("args", []string{"--print"})
	w.Record("line", `{"type":"result"}`)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w.Record("late", "ignored")
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "chatcmpl-abc.jsonl"))
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		if e.RequestID != "chatcmpl-abc" {
			t.Errorf("request_id = %q", e.RequestID)
		}
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != "args" || types[1] != "line" {
		t.Fatalf("types = %q", types)
	}
}

func TestOpenDisabled(t *testing.T) {
	w := Open("", "x", nil)
	if w != nil {
		t.Fatal("Open with empty dir should return nil")
	}
	w.Record("args", nil)
	if err := w.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestCleanupRemovesOldTranscripts(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	keep := filepath.Join(dir, "keep.txt")
	for _, p := range []string{old, keep} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(keep, past, past); err != nil {
		t.Fatal(err)
	}
	if err := Cleanup(dir, Retention); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old transcript still present")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("non-jsonl file removed: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("../etc/passwd"); got != "___etc_passwd" {
		t.Fatalf("sanitize = %q", got)
	}
}
