package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"parley/internal/model"
)

var (
	// ErrCorrupt means the ledger file cannot be trusted. Never auto-repair:
	// the operator must migrate or restore explicitly.
	ErrCorrupt = errors.New("ledger file is corrupt")

	// ErrPersistence means a write did not become durable. The caller must
	// not proceed as if the visit was recorded.
	ErrPersistence = errors.New("ledger persistence failed")
)

// timeLayout is the canonical encoding of last_updated, matching the
// ledger's tabular history format.
const timeLayout = "2006-01-02 15:04:05"

// baseColumns is the full current schema in canonical order. Schema changes
// are additive only; existing files keep their own (possibly shorter or
// extended) header until explicitly migrated.
var baseColumns = []string{
	"did", "handle", "display_name", "created_at", "description", "location",
	"url", "avatar_url", "verified", "verified_type", "protected",
	"followers_count", "following_count", "posts_count", "listed_count", "likes_count",
	"last_updated", "times_checked", "times_replied", "times_skipped",
	"times_no_post", "classification",
}

// requiredColumns must be present in any loadable header; their absence is
// corruption, not a migration case.
var requiredColumns = []string{
	"did", "handle", "last_updated",
	"times_checked", "times_replied", "times_skipped", "times_no_post",
}

// Record is one account's engagement history. Profile snapshot fields are
// stored verbatim as written; the ledger is a history, not a source of
// truth for profile data. The four counters are monotonically
// non-decreasing and only ever incremented here.
type Record struct {
	DID          string
	Handle       string
	DisplayName  string
	CreatedAt    string
	Description  string
	Location     string
	URL          string
	AvatarURL    string
	Verified     string
	VerifiedType string
	Protected    string
	Followers    string
	Following    string
	Posts        string
	Listed       string
	Likes        string

	LastUpdated    time.Time
	TimesChecked   int
	TimesReplied   int
	TimesSkipped   int
	TimesNoPost    int
	Classification model.Classification

	// extra holds values of columns this build does not know, preserved
	// verbatim so newer files survive older binaries.
	extra map[string]string
}

// ApplyProfile refreshes the snapshot fields from a live profile, leaving
// counters, classification, and last_updated untouched.
func (r *Record) ApplyProfile(p model.Profile) {
	r.Handle = p.Handle
	r.DisplayName = p.DisplayName
	if !p.CreatedAt.IsZero() {
		r.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	r.Description = p.Description
	r.Location = p.Location
	r.URL = p.URL
	r.AvatarURL = p.AvatarURL
	r.Verified = strconv.FormatBool(p.Verified)
	r.VerifiedType = p.VerifiedType
	r.Protected = strconv.FormatBool(p.Protected)
	r.Followers = strconv.Itoa(p.FollowersCount)
	r.Following = strconv.Itoa(p.FollowingCount)
	r.Posts = strconv.Itoa(p.PostsCount)
	r.Listed = strconv.Itoa(p.ListedCount)
	r.Likes = strconv.Itoa(p.LikesCount)
}

// Ledger is the in-memory working copy of the engagement file: an ordered
// sequence of records, traversal order = insertion order. Load it at the
// start of a cycle, mutate in place, Persist at checkpoints.
type Ledger struct {
	path    string
	columns []string
	records []*Record
	byDID   map[string]*Record
}

// New returns an empty ledger bound to path, using the full current schema.
func New(path string) *Ledger {
	cols := make([]string, len(baseColumns))
	copy(cols, baseColumns)
	return &Ledger{path: path, columns: cols, byDID: map[string]*Record{}}
}

// Load reads the ledger file. A missing file yields an empty ledger (first
// run); a malformed header or row is ErrCorrupt, and no row is ever
// silently dropped.
func Load(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable header: %v", ErrCorrupt, err)
	}
	seen := map[string]bool{}
	for _, col := range header {
		if seen[col] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrCorrupt, col)
		}
		seen[col] = true
	}
	for _, col := range requiredColumns {
		if !seen[col] {
			return nil, fmt.Errorf("%w: missing required column %q", ErrCorrupt, col)
		}
	}

	l := &Ledger{path: path, columns: header, byDID: map[string]*Record{}}
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row at line %d: %v", ErrCorrupt, line, err)
		}
		rec, err := recordFromRow(header, row)
		if err != nil {
			return nil, fmt.Errorf("%w: row at line %d: %v", ErrCorrupt, line, err)
		}
		if _, dup := l.byDID[rec.DID]; dup {
			return nil, fmt.Errorf("%w: duplicate account id %q at line %d", ErrCorrupt, rec.DID, line)
		}
		l.records = append(l.records, rec)
		l.byDID[rec.DID] = rec
	}
	return l, nil
}

func recordFromRow(header, row []string) (*Record, error) {
	rec := &Record{}
	for i, col := range header {
		val := row[i]
		switch col {
		case "did":
			rec.DID = val
		case "handle":
			rec.Handle = val
		case "display_name":
			rec.DisplayName = val
		case "created_at":
			rec.CreatedAt = val
		case "description":
			rec.Description = val
		case "location":
			rec.Location = val
		case "url":
			rec.URL = val
		case "avatar_url":
			rec.AvatarURL = val
		case "verified":
			rec.Verified = val
		case "verified_type":
			rec.VerifiedType = val
		case "protected":
			rec.Protected = val
		case "followers_count":
			rec.Followers = val
		case "following_count":
			rec.Following = val
		case "posts_count":
			rec.Posts = val
		case "listed_count":
			rec.Listed = val
		case "likes_count":
			rec.Likes = val
		case "last_updated":
			if val != "" {
				ts, err := time.Parse(timeLayout, val)
				if err != nil {
					return nil, fmt.Errorf("bad last_updated %q: %v", val, err)
				}
				rec.LastUpdated = ts.UTC()
			}
		case "times_checked":
			n, err := parseCounter(val)
			if err != nil {
				return nil, err
			}
			rec.TimesChecked = n
		case "times_replied":
			n, err := parseCounter(val)
			if err != nil {
				return nil, err
			}
			rec.TimesReplied = n
		case "times_skipped":
			n, err := parseCounter(val)
			if err != nil {
				return nil, err
			}
			rec.TimesSkipped = n
		case "times_no_post":
			n, err := parseCounter(val)
			if err != nil {
				return nil, err
			}
			rec.TimesNoPost = n
		case "classification":
			if !model.ValidClassification(val) {
				return nil, fmt.Errorf("bad classification %q", val)
			}
			rec.Classification = model.Classification(val)
		default:
			if rec.extra == nil {
				rec.extra = map[string]string{}
			}
			rec.extra[col] = val
		}
	}
	if rec.DID == "" {
		return nil, errors.New("empty account id")
	}
	return rec, nil
}

// parseCounter rejects anything that is not a canonically encoded
// non-negative integer, including a blank cell or "007": accepting a value
// that re-encodes differently would rewrite the row on the next persist,
// and this file never repairs values silently.
func parseCounter(val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 || strconv.Itoa(n) != val {
		return 0, fmt.Errorf("bad counter %q", val)
	}
	return n, nil
}

func (l *Ledger) rowFor(rec *Record) []string {
	row := make([]string, len(l.columns))
	for i, col := range l.columns {
		switch col {
		case "did":
			row[i] = rec.DID
		case "handle":
			row[i] = rec.Handle
		case "display_name":
			row[i] = rec.DisplayName
		case "created_at":
			row[i] = rec.CreatedAt
		case "description":
			row[i] = rec.Description
		case "location":
			row[i] = rec.Location
		case "url":
			row[i] = rec.URL
		case "avatar_url":
			row[i] = rec.AvatarURL
		case "verified":
			row[i] = rec.Verified
		case "verified_type":
			row[i] = rec.VerifiedType
		case "protected":
			row[i] = rec.Protected
		case "followers_count":
			row[i] = rec.Followers
		case "following_count":
			row[i] = rec.Following
		case "posts_count":
			row[i] = rec.Posts
		case "listed_count":
			row[i] = rec.Listed
		case "likes_count":
			row[i] = rec.Likes
		case "last_updated":
			if !rec.LastUpdated.IsZero() {
				row[i] = rec.LastUpdated.UTC().Format(timeLayout)
			}
		case "times_checked":
			row[i] = strconv.Itoa(rec.TimesChecked)
		case "times_replied":
			row[i] = strconv.Itoa(rec.TimesReplied)
		case "times_skipped":
			row[i] = strconv.Itoa(rec.TimesSkipped)
		case "times_no_post":
			row[i] = strconv.Itoa(rec.TimesNoPost)
		case "classification":
			row[i] = string(rec.Classification)
		default:
			row[i] = rec.extra[col]
		}
	}
	return row
}

// Len returns the number of records.
func (l *Ledger) Len() int { return len(l.records) }

// All returns the records in traversal order. Callers must not reorder.
func (l *Ledger) All() []*Record { return l.records }

// Get returns the record for an account id, or nil.
func (l *Ledger) Get(did string) *Record { return l.byDID[did] }

// Upsert inserts a record for a newly discovered profile at the tail, or
// refreshes the snapshot of an existing one in place, preserving position,
// counters, and classification.
func (l *Ledger) Upsert(p model.Profile) *Record {
	if rec, ok := l.byDID[p.DID]; ok {
		rec.ApplyProfile(p)
		return rec
	}
	rec := &Record{DID: p.DID}
	rec.ApplyProfile(p)
	l.records = append(l.records, rec)
	l.byDID[p.DID] = rec
	return rec
}

// NextDue selects the next account to visit: the first record in traversal
// order whose last_updated is older than the cycle start, or the first
// record at all when every account has been visited this cycle (wrap).
// Returns nil only for an empty ledger.
func (l *Ledger) NextDue(cycleStart time.Time) *Record {
	if len(l.records) == 0 {
		return nil
	}
	for _, rec := range l.records {
		if rec.LastUpdated.Before(cycleStart) {
			return rec
		}
	}
	return l.records[0]
}

// Persist writes the full ledger to its path via write-temp-then-rename.
// The previous file is never truncated before the replacement is complete.
func (l *Ledger) Persist() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	w := csv.NewWriter(tmp)
	if err := w.Write(l.columns); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: header: %v", ErrPersistence, err)
	}
	for _, rec := range l.records {
		if err := w.Write(l.rowFor(rec)); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("%w: row %s: %v", ErrPersistence, rec.DID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: flush: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}
