package ledger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"parley/internal/logging"
)

// Column is one additive schema change: a new column name and the default
// value existing rows receive.
type Column struct {
	Name    string
	Default string
}

// CurrentSchemaColumns returns the additive deltas needed to bring the
// loaded header up to the full current schema.
func (l *Ledger) CurrentSchemaColumns() []Column {
	have := map[string]bool{}
	for _, c := range l.columns {
		have[c] = true
	}
	var missing []Column
	for _, c := range baseColumns {
		if !have[c] {
			def := ""
			if strings.HasPrefix(c, "times_") {
				def = "0"
			}
			missing = append(missing, Column{Name: c, Default: def})
		}
	}
	return missing
}

// MigrateSchema performs a one-shot additive migration: every named column
// that is not yet in the header is appended, and existing rows gain the
// default value. A timestamped backup of the original file is written first;
// if the backup cannot be produced the original is left untouched (fail
// closed). Invoking it again once the columns exist is a no-op: no backup,
// no rewrite.
func (l *Ledger) MigrateSchema(cols []Column, now time.Time) error {
	have := map[string]bool{}
	for _, c := range l.columns {
		have[c] = true
	}
	var missing []Column
	for _, c := range cols {
		if !have[c.Name] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		logging.Info("migrate_noop", map[string]any{"path": l.path})
		return nil
	}

	if _, err := os.Stat(l.path); err == nil {
		backup := backupPath(l.path, now)
		if err := copyFile(l.path, backup); err != nil {
			return fmt.Errorf("%w: backup %s: %v", ErrPersistence, backup, err)
		}
		logging.Info("migrate_backup", map[string]any{"backup": backup})
	}

	for _, c := range missing {
		l.columns = append(l.columns, c.Name)
		if isBaseColumn(c.Name) {
			// Typed columns emit their zero value through the row mapping;
			// counters already render as "0".
			continue
		}
		for _, rec := range l.records {
			if rec.extra == nil {
				rec.extra = map[string]string{}
			}
			rec.extra[c.Name] = c.Default
		}
	}
	if err := l.Persist(); err != nil {
		return err
	}
	logging.Info("migrate_done", map[string]any{
		"path": l.path, "added": len(missing), "rows": len(l.records),
	})
	return nil
}

func isBaseColumn(name string) bool {
	for _, c := range baseColumns {
		if c == name {
			return true
		}
	}
	return false
}

func backupPath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := now.UTC().Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", stem, stamp, ext))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
