package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
)

const (
	WholeFileName     = "requests.whole"
	CompletedFileName = "requests.completed"
	FailedFileName    = "requests.failed"
)

// ledgerHeader lists the request record columns in sorted order
var ledgerHeader = []string{"elements", "kind", "model", "throttle_delay", "workers"}

// LedgerCounts summarizes the state of a ledger
type LedgerCounts struct {
	Whole     int `json:"whole" yaml:"whole"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
	Pending   int `json:"pending" yaml:"pending"`
}

// Ledger journals the work list of an output directory and the outcome of each record.
// RecordOutcome is safe for concurrent use.
type Ledger struct {
	dir    string
	logger *lib.Logger

	completed *Table
	failed    *Table

	mu       sync.Mutex
	recorded RecordSet
}

// NewLedger opens the ledger of an output directory
func NewLedger(dir string, logger *lib.Logger) *Ledger {
	return &Ledger{
		dir:       dir,
		logger:    logger,
		completed: NewTable(filepath.Join(dir, CompletedFileName), ledgerHeader),
		failed:    NewTable(filepath.Join(dir, FailedFileName), ledgerHeader),
		recorded:  RecordSet{},
	}
}

// Dir returns the output directory
func (l *Ledger) Dir() string { return l.dir }

// HasPriorRun reports whether dir holds a whole log
func HasPriorRun(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, WholeFileName))
	return err == nil
}

// HasFailures reports whether dir holds a failed log with at least one record
func HasFailures(dir string) bool {
	_, rows, err := ReadTable(filepath.Join(dir, FailedFileName))
	return err == nil && len(rows) > 0
}

// HasPriorRun reports whether this ledger has a whole log
func (l *Ledger) HasPriorRun() bool { return HasPriorRun(l.dir) }

// HasFailures reports whether this ledger has a non-empty failed log
func (l *Ledger) HasFailures() bool { return HasFailures(l.dir) }

// Initialize discards any prior logs and journals work as the whole log
func (l *Ledger) Initialize(work []models.Request) error {
	for _, name := range []string{WholeFileName, CompletedFileName, FailedFileName} {
		if err := os.Remove(filepath.Join(l.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return lib.WrapError(lib.CategoryState, "failed to remove prior ledger", err)
		}
	}

	rows := make([][]string, 0, len(work))
	for _, r := range work {
		rows = append(rows, encodeRecord(r.Canonical()))
	}
	if err := WriteTableAtomic(filepath.Join(l.dir, WholeFileName), ledgerHeader, rows); err != nil {
		return lib.WrapError(lib.CategoryState, "failed to write work list", err)
	}

	l.mu.Lock()
	l.recorded = RecordSet{}
	l.mu.Unlock()

	l.logger.Debug("Ledger initialized", "dir", l.dir, "records", len(work))
	return nil
}

// RecordOutcome appends r to the completed log on success, else to the failed log.
// A record already recorded by this ledger is not recorded again.
func (l *Ledger) RecordOutcome(r models.Request, success bool) error {
	key := KeyOf(r)

	l.mu.Lock()
	if _, done := l.recorded[key]; done {
		l.mu.Unlock()
		l.logger.Debug("Outcome already recorded", "record", key)
		return nil
	}
	l.recorded[key] = struct{}{}
	l.mu.Unlock()

	table := l.failed
	if success {
		table = l.completed
	}
	if err := table.Append(encodeRecord(r.Canonical())); err != nil {
		l.mu.Lock()
		delete(l.recorded, key)
		l.mu.Unlock()
		return lib.WrapError(lib.CategoryState, "failed to record outcome", err)
	}
	return nil
}

// Whole returns the journaled work list
func (l *Ledger) Whole() ([]models.Request, error) {
	return l.read(WholeFileName)
}

// Completed returns the records that finished successfully
func (l *Ledger) Completed() ([]models.Request, error) {
	return l.read(CompletedFileName)
}

// Failed returns the records that finished with a non-success status
func (l *Ledger) Failed() ([]models.Request, error) {
	return l.read(FailedFileName)
}

// PendingWorkList returns whole - (completed ∪ failed), in whole order without duplicates
func (l *Ledger) PendingWorkList() ([]models.Request, error) {
	whole, err := l.Whole()
	if err != nil {
		return nil, err
	}
	completed, err := l.Completed()
	if err != nil {
		return nil, err
	}
	failed, err := l.Failed()
	if err != nil {
		return nil, err
	}

	done := NewRecordSet(completed, failed)
	return difference(whole, done), nil
}

// FailedWorkList returns the failed records without duplicates
func (l *Ledger) FailedWorkList() ([]models.Request, error) {
	failed, err := l.Failed()
	if err != nil {
		return nil, err
	}
	return difference(failed, RecordSet{}), nil
}

// ClearFailed removes the failed log
func (l *Ledger) ClearFailed() error {
	if err := os.Remove(l.failed.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return lib.WrapError(lib.CategoryState, "failed to clear failed log", err)
	}

	// Records from the cleared log may be recorded again
	l.mu.Lock()
	l.recorded = RecordSet{}
	l.mu.Unlock()
	return nil
}

// Counts summarizes the ledger
func (l *Ledger) Counts() (LedgerCounts, error) {
	whole, err := l.Whole()
	if err != nil {
		return LedgerCounts{}, err
	}
	completed, err := l.Completed()
	if err != nil {
		return LedgerCounts{}, err
	}
	failed, err := l.Failed()
	if err != nil {
		return LedgerCounts{}, err
	}

	return LedgerCounts{
		Whole:     len(NewRecordSet(whole)),
		Completed: len(NewRecordSet(completed)),
		Failed:    len(NewRecordSet(failed)),
		Pending:   len(difference(whole, NewRecordSet(completed, failed))),
	}, nil
}

// difference keeps the records of list not in exclude, first occurrence only
func difference(list []models.Request, exclude RecordSet) []models.Request {
	seen := RecordSet{}
	out := make([]models.Request, 0, len(list))
	for _, r := range list {
		key := KeyOf(r)
		if _, skip := exclude[key]; skip {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (l *Ledger) read(name string) ([]models.Request, error) {
	path := filepath.Join(l.dir, name)
	header, rows, err := ReadTable(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, lib.ErrCorruptedLedger(path, err)
	}

	records := make([]models.Request, 0, len(rows))
	for i, row := range rows {
		r, err := decodeRecord(header, row)
		if err != nil {
			return nil, lib.ErrCorruptedLedger(path, fmt.Errorf("row %d: %w", i+1, err))
		}
		records = append(records, r)
	}
	return records, nil
}

func encodeRecord(r models.Request) []string {
	elements := r.Elements
	if elements == nil {
		elements = []string{}
	}
	data, _ := json.Marshal(elements)
	return []string{
		string(data),
		string(r.Kind),
		string(r.Model),
		r.ThrottleDelay.String(),
		strconv.Itoa(r.Workers),
	}
}

func decodeRecord(header []string, row []string) (models.Request, error) {
	if len(row) != len(header) {
		return models.Request{}, fmt.Errorf("expected %d columns, got %d", len(header), len(row))
	}
	cells := make(map[string]string, len(header))
	for i, name := range header {
		cells[name] = row[i]
	}

	var r models.Request
	if v := cells["elements"]; v != "" {
		if err := json.Unmarshal([]byte(v), &r.Elements); err != nil {
			return r, fmt.Errorf("elements: %w", err)
		}
	}
	r.Kind = models.Kind(cells["kind"])
	if !models.IsValidKind(r.Kind) {
		return r, fmt.Errorf("invalid kind %q", cells["kind"])
	}
	r.Model = dimse.Model(cells["model"])

	if v := cells["throttle_delay"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return r, fmt.Errorf("throttle_delay: %w", err)
		}
		r.ThrottleDelay = d
	}
	if v := cells["workers"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return r, fmt.Errorf("workers: %w", err)
		}
		r.Workers = n
	}
	return r.Canonical(), nil
}
