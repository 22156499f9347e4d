package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sokhanlabs/negar-core/internal/config"
)

// Scope selects which counters a reset clears.
type Scope string

const (
	ScopeDaily  Scope = "daily"
	ScopeWeekly Scope = "weekly"
	ScopeAll    Scope = "all"
)

// record is the persisted JSON document.
type record struct {
	TotalMinutes      float64            `json:"total_minutes"`
	SuccessfulMinutes float64            `json:"successful_minutes"`
	FailedAttempts    int                `json:"failed_attempts"`
	CreatedAt         time.Time          `json:"created_at"`
	LastUpdated       time.Time          `json:"last_updated"`
	DailyAggregate    map[string]float64 `json:"daily_aggregate"`
	WeeklyAggregate   map[string]float64 `json:"weekly_aggregate"`
}

// Snapshot is a read-only view of the counters plus the display cost.
type Snapshot struct {
	TotalMinutes      float64
	SuccessfulMinutes float64
	FailedAttempts    int
	DailyMinutes      float64
	WeeklyMinutes     float64
	EstimatedCost     string
	CreatedAt         time.Time
	LastUpdated       time.Time
}

// Ledger tracks processed audio minutes and cost across restarts. All
// mutations run under one lock as a read-modify-write cycle and persist with
// an atomic temp-file rename, so a crash mid-write never leaves a torn file.
type Ledger struct {
	path          string
	costPerMinute float64
	log           *slog.Logger

	mu    sync.Mutex
	data  record
	clock func() time.Time
}

// Open loads the ledger from disk, initializing defaults when the file is
// missing and backing up + reinitializing when it is unreadable. An
// unparseable file is data loss, not a fatal error.
func Open(cfg config.LedgerConfig, log *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		path:          cfg.Path,
		costPerMinute: cfg.CostPerMinute,
		log:           log,
		clock:         time.Now,
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.data = l.defaultRecord()
		l.persistLocked()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	rec, repaired, decodeErr := decodeRecord(raw, l.clock)
	if decodeErr != nil {
		backup := fmt.Sprintf("%s.backup_%s", l.path, l.clock().Format("20060102_150405"))
		if renameErr := os.Rename(l.path, backup); renameErr != nil {
			l.log.Error("failed to back up corrupted ledger", slog.String("error", renameErr.Error()))
		} else {
			l.log.Warn("ledger file corrupted, reinitialized",
				slog.String("backup", backup),
				slog.String("error", decodeErr.Error()))
		}
		l.data = l.defaultRecord()
		l.persistLocked()
		return nil
	}
	if repaired {
		l.log.Warn("ledger file structurally incomplete, repaired missing fields")
	}
	l.data = rec
	if repaired {
		l.persistLocked()
	}
	return nil
}

func (l *Ledger) defaultRecord() record {
	now := l.clock().UTC()
	return record{
		CreatedAt:       now,
		LastUpdated:     now,
		DailyAggregate:  map[string]float64{},
		WeeklyAggregate: map[string]float64{},
	}
}

// decodeRecord parses the document field by field so a structurally
// incomplete file is repaired in place instead of discarded.
func decodeRecord(raw []byte, clock func() time.Time) (record, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return record{}, false, err
	}

	now := clock().UTC()
	rec := record{
		CreatedAt:       now,
		LastUpdated:     now,
		DailyAggregate:  map[string]float64{},
		WeeklyAggregate: map[string]float64{},
	}
	repaired := false

	readField := func(key string, target any) {
		msg, ok := fields[key]
		if !ok {
			repaired = true
			return
		}
		if err := json.Unmarshal(msg, target); err != nil {
			repaired = true
		}
	}

	readField("total_minutes", &rec.TotalMinutes)
	readField("successful_minutes", &rec.SuccessfulMinutes)
	readField("failed_attempts", &rec.FailedAttempts)
	readField("created_at", &rec.CreatedAt)
	readField("last_updated", &rec.LastUpdated)
	readField("daily_aggregate", &rec.DailyAggregate)
	readField("weekly_aggregate", &rec.WeeklyAggregate)

	if rec.TotalMinutes < 0 || rec.SuccessfulMinutes < 0 || rec.FailedAttempts < 0 {
		repaired = true
		if rec.TotalMinutes < 0 {
			rec.TotalMinutes = 0
		}
		if rec.SuccessfulMinutes < 0 {
			rec.SuccessfulMinutes = 0
		}
		if rec.FailedAttempts < 0 {
			rec.FailedAttempts = 0
		}
	}
	if rec.DailyAggregate == nil {
		rec.DailyAggregate = map[string]float64{}
		repaired = true
	}
	if rec.WeeklyAggregate == nil {
		rec.WeeklyAggregate = map[string]float64{}
		repaired = true
	}
	return rec, repaired, nil
}

// Record adds one processed segment to the counters. Total minutes track all
// processed audio; successful minutes only audio from successful attempts.
// Non-positive durations are a no-op that returns the current snapshot.
func (l *Ledger) Record(durationSeconds float64, success bool) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if durationSeconds <= 0 {
		l.log.Warn("ignoring non-positive duration", slog.Float64("seconds", durationSeconds))
		return l.snapshotLocked()
	}

	minutes := durationSeconds / 60.0
	l.data.TotalMinutes += minutes
	if success {
		l.data.SuccessfulMinutes += minutes
	} else {
		l.data.FailedAttempts++
	}
	l.data.DailyAggregate[l.dayKey()] += minutes
	l.data.WeeklyAggregate[l.weekKey()] += minutes
	l.data.LastUpdated = l.clock().UTC()

	l.persistLocked()
	return l.snapshotLocked()
}

// Snapshot returns the current counters.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Reset clears the selected scope. Daily and weekly resets subtract the
// period aggregate from the running total and zero the period key; a full
// reset clears everything.
func (l *Ledger) Reset(scope Scope) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch scope {
	case ScopeDaily:
		key := l.dayKey()
		if minutes, ok := l.data.DailyAggregate[key]; ok {
			l.data.TotalMinutes = max(0, l.data.TotalMinutes-minutes)
			l.data.SuccessfulMinutes = min(l.data.SuccessfulMinutes, l.data.TotalMinutes)
			l.data.DailyAggregate[key] = 0
		}
	case ScopeWeekly:
		key := l.weekKey()
		if minutes, ok := l.data.WeeklyAggregate[key]; ok {
			l.data.TotalMinutes = max(0, l.data.TotalMinutes-minutes)
			l.data.SuccessfulMinutes = min(l.data.SuccessfulMinutes, l.data.TotalMinutes)
			l.data.WeeklyAggregate[key] = 0
		}
	case ScopeAll:
		l.log.Info("resetting all usage data", slog.Float64("previous_total_minutes", l.data.TotalMinutes))
		l.data.TotalMinutes = 0
		l.data.SuccessfulMinutes = 0
		l.data.FailedAttempts = 0
		l.data.DailyAggregate = map[string]float64{}
		l.data.WeeklyAggregate = map[string]float64{}
	default:
		l.log.Warn("unknown reset scope", slog.String("scope", string(scope)))
		return l.snapshotLocked()
	}

	l.data.LastUpdated = l.clock().UTC()
	l.persistLocked()
	return l.snapshotLocked()
}

// CostWarning reports whether the unrounded running cost exceeds the
// threshold. The display string rounds to cents; comparisons never do.
func (l *Ledger) CostWarning(thresholdUSD float64) (bool, float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost := l.data.TotalMinutes * l.costPerMinute
	return cost > thresholdUSD, cost, thresholdUSD
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		TotalMinutes:      l.data.TotalMinutes,
		SuccessfulMinutes: l.data.SuccessfulMinutes,
		FailedAttempts:    l.data.FailedAttempts,
		DailyMinutes:      l.data.DailyAggregate[l.dayKey()],
		WeeklyMinutes:     l.data.WeeklyAggregate[l.weekKey()],
		EstimatedCost:     fmt.Sprintf("$%.2f", l.data.TotalMinutes*l.costPerMinute),
		CreatedAt:         l.data.CreatedAt,
		LastUpdated:       l.data.LastUpdated,
	}
}

// persistLocked writes the document atomically. Write failures (disk full,
// permissions) are logged and skipped; the in-memory state stays intact and
// the next mutation retries.
func (l *Ledger) persistLocked() {
	data, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		l.log.Error("failed to marshal ledger", slog.String("error", err.Error()))
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.log.Error("failed to write ledger", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.log.Error("failed to replace ledger file", slog.String("error", err.Error()))
	}
}

func (l *Ledger) dayKey() string {
	return l.clock().Format("2006-01-02")
}

func (l *Ledger) weekKey() string {
	year, week := l.clock().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
