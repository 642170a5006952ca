// Package storage keeps the command audit trail in the data directory
package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxEntries = 500
	auditFile  = "stats.txt"
	timeFormat = "Mon Jan 02, 2006 15:04:05 MST"
)

// AuditLog records every command issued to the bot, oldest first, capped
// at the newest 500 entries
type AuditLog struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries []string
}

// OpenAuditLog loads the audit log from dataDir. A missing file is an
// empty log.
func OpenAuditLog(dataDir string) (*AuditLog, error) {
	a := &AuditLog{
		path: filepath.Join(dataDir, auditFile),
		now:  time.Now,
	}
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		// blank lines and CRLF endings come from hand edits
		if line = strings.TrimSuffix(line, "\r"); line != "" {
			a.entries = append(a.entries, line)
		}
	}
	a.entries = trim(a.entries)
	return a, nil
}

// Record appends an entry and rewrites the file
func (a *AuditLog) Record(network, hostmask, text string) error {
	entry := fmt.Sprintf("[%s] [%s] %s: %s", a.now().UTC().Format(timeFormat), network, hostmask, sanitize(text))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = trim(append(a.entries, entry))
	return writeLines(a.path, a.entries)
}

// Recent returns up to n entries, newest first
func (a *AuditLog) Recent(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]string, 0, n)
	for i := len(a.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.entries[i])
	}
	return out
}

// Len returns the number of entries kept
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// sanitize keeps one entry on one line
func sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, text)
}

func trim(entries []string) []string {
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return entries
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}
