package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, time.February, 20, 12, 0, 0, 0, time.UTC)
}

func TestAuditLogRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	audit, err := OpenAuditLog(tmpDir)
	if err != nil {
		t.Fatalf("OpenAuditLog failed: %v", err)
	}
	audit.now = fixedClock

	if err := audit.Record("dalnet", "alice!a@host", "SET #chan *!*@host o"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := audit.Record("efnet", "bob!b@host", "LIST #chan"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(tmpDir, "stats.txt"))
	expected := "[Thu Feb 20, 2025 12:00:00 UTC] [dalnet] alice!a@host: SET #chan *!*@host o\n"
	if !strings.HasPrefix(string(data), expected) {
		t.Errorf("Audit file format wrong: got %q", string(data))
	}

	// Reopen and check the order survives (newest first from Recent)
	reopened, err := OpenAuditLog(tmpDir)
	if err != nil {
		t.Fatalf("OpenAuditLog failed: %v", err)
	}
	recent := reopened.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(recent))
	}
	if !strings.Contains(recent[0], "LIST #chan") {
		t.Errorf("Newest entry should be first, got %q", recent[0])
	}
}

func TestAuditLogMaxEntries(t *testing.T) {
	tmpDir := t.TempDir()

	// Start at max capacity
	lines := make([]string, maxEntries)
	for i := range lines {
		lines[i] = "entry"
	}
	if err := writeLines(filepath.Join(tmpDir, "stats.txt"), lines); err != nil {
		t.Fatal(err)
	}

	audit, err := OpenAuditLog(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	audit.now = fixedClock
	if err := audit.Record("net", "x!y@z", "new"); err != nil {
		t.Fatal(err)
	}

	if audit.Len() != maxEntries {
		t.Errorf("Expected %d entries (max), got %d", maxEntries, audit.Len())
	}
	if got := audit.Recent(1); !strings.HasSuffix(got[0], "x!y@z: new") {
		t.Errorf("New entry should be kept, got %q", got[0])
	}
}

func TestAuditLogKeepsOneLinePerEntry(t *testing.T) {
	audit, err := OpenAuditLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := audit.Record("net", "x!y@z", "line one\r\nline two"); err != nil {
		t.Fatal(err)
	}

	reopened, _ := OpenAuditLog(filepath.Dir(audit.path))
	if reopened.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", reopened.Len())
	}
}

func TestAuditLogMissingFile(t *testing.T) {
	audit, err := OpenAuditLog(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("OpenAuditLog should not fail for missing file: %v", err)
	}
	if audit.Len() != 0 {
		t.Errorf("Expected empty log, got %d entries", audit.Len())
	}
	if got := audit.Recent(5); len(got) != 0 {
		t.Errorf("Expected no recent entries, got %v", got)
	}
}

func TestOpenAuditLogSkipsBlankLines(t *testing.T) {
	tmpDir := t.TempDir()
	content := "[a] [net] x!y@z: one\r\n\r\n\n[b] [net] x!y@z: two\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "stats.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	audit, err := OpenAuditLog(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if audit.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d", audit.Len())
	}
	if got := audit.Recent(2); got[0] != "[b] [net] x!y@z: two" || got[1] != "[a] [net] x!y@z: one" {
		t.Errorf("Unexpected entries %q", got)
	}
}
