package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one human-readable trade action record.
type Entry struct {
	Action    string
	Symbol    string
	Direction string
	Quantity  float64
	Price     float64
	Notional  float64
	PnLValue  *float64
	PnLPct    *float64
	Reason    string
	Meta      map[string]any
}

// Log appends markdown entries to one file per calendar day. It is a
// write-only collaborator: failures are surfaced but never block trading
// state changes.
type Log struct {
	dir string
	loc *time.Location
	now func() time.Time
}

func NewLog(dir string, loc *time.Location) *Log {
	if loc == nil {
		loc = time.UTC
	}
	return &Log{dir: dir, loc: loc, now: time.Now}
}

// Append writes one entry and returns the path of the day's log file.
func (l *Log) Append(entry Entry) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", err
	}
	now := l.now().In(l.loc)
	day := now.Format("2006-01-02")
	path := filepath.Join(l.dir, day+".md")

	var b strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(&b, "# Leveraged Trades — %s\n\n", day)
	}
	action := entry.Action
	if action == "" {
		action = "event"
	}
	fmt.Fprintf(&b, "## %s — %s\n", titleCase(action), now.Format("15:04:05 MST"))
	fmt.Fprintf(&b, "- **Symbol**: %s\n", entry.Symbol)
	fmt.Fprintf(&b, "- **Direction**: %s\n", entry.Direction)
	fmt.Fprintf(&b, "- **Quantity**: %.6f\n", entry.Quantity)
	fmt.Fprintf(&b, "- **Price**: %.4f\n", entry.Price)
	fmt.Fprintf(&b, "- **Notional**: %.2f\n", entry.Notional)
	if entry.PnLValue != nil && entry.PnLPct != nil {
		fmt.Fprintf(&b, "- **P&L**: %.2f (%.2f%%)\n", *entry.PnLValue, *entry.PnLPct*100)
	}
	if entry.Reason != "" {
		fmt.Fprintf(&b, "- **Reason**: %s\n", entry.Reason)
	}
	if len(entry.Meta) > 0 {
		raw, err := json.Marshal(entry.Meta)
		if err == nil {
			meta := string(raw)
			if len(meta) > 800 {
				meta = meta[:800]
			}
			fmt.Fprintf(&b, "- **Meta**: `%s`\n", meta)
		}
	}
	b.WriteString("\n")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return "", err
	}
	return path, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
