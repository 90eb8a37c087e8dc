package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/recording"
	"github.com/banshee-data/trace.report/internal/timeutil"
)

// ErrReportNotFound is returned by Get and Delete for an unknown ID.
var ErrReportNotFound = errors.New("report not found")

// Report is a persisted validation outcome for one recording.
type Report struct {
	ReportID    string                  `json:"report_id"`
	Source      string                  `json:"source"`
	CreatedAt   int64                   `json:"created_at"` // unix nanoseconds
	PacketCount int                     `json:"packet_count"`
	DurationS   float64                 `json:"duration_s"`
	Labels      *recording.Labels       `json:"labels,omitempty"`
	Verdict     integrity.Verdict       `json:"verdict"`
	Stats       []recording.SeriesStats `json:"stats,omitempty"`
}

// NewReport assembles a report for a validated recording.
func NewReport(source string, rec *recording.Recording, verdict integrity.Verdict) *Report {
	r := &Report{
		Source:      source,
		PacketCount: rec.PacketCount,
		Verdict:     verdict,
		Stats:       rec.Stats(),
	}
	if rec.LabelsPresent() {
		r.Labels = rec.Labels
	}
	// Every key shares the packet anchors, so any series carries the span.
	for _, s := range rec.Series {
		r.DurationS = s.TotalDuration()
		break
	}
	return r
}

// ReportStore persists reports with their findings and series statistics.
type ReportStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewReportStore creates a ReportStore using the real clock.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db.DB, clock: timeutil.RealClock{}}
}

// NewReportStoreWithClock creates a ReportStore with a custom clock.
func NewReportStoreWithClock(db *DB, clock timeutil.Clock) *ReportStore {
	return &ReportStore{db: db.DB, clock: clock}
}

// Insert persists a report. If ReportID is empty, a UUID is generated; if
// CreatedAt is zero, it is stamped from the store's clock.
func (s *ReportStore) Insert(r *Report) error {
	if r.ReportID == "" {
		r.ReportID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = s.clock.Now().UnixNano()
	}

	var labels interface{}
	if r.Labels != nil {
		b, err := json.Marshal(r.Labels)
		if err != nil {
			return fmt.Errorf("encode labels: %w", err)
		}
		labels = string(b)
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		v := r.Verdict
		if _, err := tx.Exec(`
			INSERT INTO reports (
				report_id, source, created_at, packet_count, duration_s,
				labels_json, missing_labels, overall, error_count, warning_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ReportID, r.Source, r.CreatedAt, r.PacketCount, r.DurationS,
			labels, v.MissingLabels, string(v.Overall), v.ErrorCount, v.WarningCount,
		); err != nil {
			return err
		}

		for i, f := range v.Findings {
			if _, err := tx.Exec(`
				INSERT INTO report_findings (
					report_id, position, trace_key, severity, reason, message,
					measured, expected_min, expected_max
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ReportID, i, f.Key, string(f.Severity), string(f.Reason), f.Message,
				finiteOrNull(f.Measured), f.ExpectedMin, f.ExpectedMax,
			); err != nil {
				return err
			}
		}

		for _, st := range r.Stats {
			if _, err := tx.Exec(`
				INSERT INTO report_series_stats (
					report_id, trace_key, samples, updates, sample_rate_hz,
					max_update_gap_s, duration_s
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ReportID, st.Key, st.Samples, st.Updates, st.SampleRateHz,
				finiteOrNull(st.MaxUpdateGapS), st.DurationS,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

const reportColumns = `report_id, source, created_at, packet_count, duration_s,
	labels_json, missing_labels, overall, error_count, warning_count`

// Get returns a report with its findings and statistics.
func (s *ReportStore) Get(reportID string) (*Report, error) {
	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE report_id = ?`, reportID)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", reportID, ErrReportNotFound)
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if r.Verdict.Findings, err = s.findings(reportID); err != nil {
		return nil, err
	}
	if r.Stats, err = s.stats(reportID); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns report headers, newest first. Findings and statistics are not
// loaded. limit <= 0 means no limit.
func (s *ReportStore) List(limit int) ([]*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports ORDER BY created_at DESC, report_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	reports := []*Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Delete removes a report; findings and statistics cascade.
func (s *ReportStore) Delete(reportID string) error {
	return retryOnBusy(s.clock, func() error {
		result, err := s.db.Exec(`DELETE FROM reports WHERE report_id = ?`, reportID)
		if err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("report %s: %w", reportID, ErrReportNotFound)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(sc scanner) (*Report, error) {
	var r Report
	var labels sql.NullString
	var overall string
	err := sc.Scan(
		&r.ReportID, &r.Source, &r.CreatedAt, &r.PacketCount, &r.DurationS,
		&labels, &r.Verdict.MissingLabels, &overall, &r.Verdict.ErrorCount, &r.Verdict.WarningCount,
	)
	if err != nil {
		return nil, err
	}
	r.Verdict.Overall = integrity.Overall(overall)
	r.Verdict.Findings = []integrity.Finding{}
	if labels.Valid {
		r.Labels = &recording.Labels{}
		if err := json.Unmarshal([]byte(labels.String), r.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	return &r, nil
}

func (s *ReportStore) findings(reportID string) ([]integrity.Finding, error) {
	rows, err := s.db.Query(`
		SELECT trace_key, severity, reason, message, measured, expected_min, expected_max
		FROM report_findings
		WHERE report_id = ?
		ORDER BY position`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	out := []integrity.Finding{}
	for rows.Next() {
		var f integrity.Finding
		var severity, reason string
		var measured sql.NullFloat64
		if err := rows.Scan(&f.Key, &severity, &reason, &f.Message, &measured, &f.ExpectedMin, &f.ExpectedMax); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Severity = integrity.Severity(severity)
		f.Reason = integrity.Reason(reason)
		f.Measured = nullOrInf(measured, f.Reason == integrity.ReasonMissing)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *ReportStore) stats(reportID string) ([]recording.SeriesStats, error) {
	rows, err := s.db.Query(`
		SELECT trace_key, samples, updates, sample_rate_hz, max_update_gap_s, duration_s
		FROM report_series_stats
		WHERE report_id = ?
		ORDER BY trace_key`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query series stats: %w", err)
	}
	defer rows.Close()

	var out []recording.SeriesStats
	for rows.Next() {
		var st recording.SeriesStats
		var gap sql.NullFloat64
		if err := rows.Scan(&st.Key, &st.Samples, &st.Updates, &st.SampleRateHz, &gap, &st.DurationS); err != nil {
			return nil, fmt.Errorf("scan series stats: %w", err)
		}
		st.MaxUpdateGapS = nullOrInf(gap, false)
		out = append(out, st)
	}
	return out, rows.Err()
}

// finiteOrNull maps non-finite measurements to NULL.
func finiteOrNull(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func nullOrInf(v sql.NullFloat64, zero bool) float64 {
	switch {
	case v.Valid:
		return v.Float64
	case zero:
		return 0
	default:
		return math.Inf(1)
	}
}

const (
	busyRetries   = 5
	busyBaseDelay = 20 * time.Millisecond
)

// retryOnBusy retries fn with exponential backoff while sqlite reports the
// database as locked.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	delay := busyBaseDelay
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		if attempt < busyRetries {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database busy after %d retries: %w", busyRetries, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
