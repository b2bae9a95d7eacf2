package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteDB implements DB on SQLite.
type SQLiteDB struct {
	db *sql.DB
}

var _ DB = (*SQLiteDB)(nil)

// ErrNotFound is returned for lookups of unknown names.
var ErrNotFound = errors.New("store: not found")

// NewSQLiteDB opens the database at path and enables WAL.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Migrate creates tables, then adds columns introduced later.
func (s *SQLiteDB) Migrate() error {
	baseMigrations := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_sets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			parameters_json TEXT NOT NULL DEFAULT '[]',
			runs_per_combo INTEGER NOT NULL DEFAULT 1,
			max_runtime_minutes INTEGER NOT NULL DEFAULT 10,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS builds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			zip_path TEXT NOT NULL DEFAULT '',
			uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			build_id TEXT NOT NULL,
			parameter_set TEXT NOT NULL DEFAULT '',
			runs_per_combo INTEGER NOT NULL DEFAULT 1,
			max_runtime_minutes INTEGER NOT NULL DEFAULT 10,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range baseMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: base migration: %w", err)
		}
	}

	alterMigrations := []string{
		`ALTER TABLE builds ADD COLUMN metrics_json TEXT NOT NULL DEFAULT '[]'`,
	}
	for _, m := range alterMigrations {
		if _, err := s.db.Exec(m); err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("store: alter migration: %w", err)
		}
	}

	indexMigrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_builds_uploaded_at ON builds(uploaded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_build_id ON jobs(build_id)`,
	}
	for _, m := range indexMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("store: index migration: %w", err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

// --- settings ---

// Setting returns the value stored under key and whether it exists.
func (s *SQLiteDB) Setting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteDB) SetSetting(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("store: setting key is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}

// MetricNames returns the counter names declared for uploaded builds.
func (s *SQLiteDB) MetricNames() ([]string, error) {
	raw, ok, err := s.Setting(SettingMetricNames)
	if err != nil || !ok {
		return []string{}, err
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("store: decode metric names: %w", err)
	}
	return names, nil
}

// SetMetricNames replaces the metric list. Names are trimmed; empty and
// repeated names are dropped.
func (s *SQLiteDB) SetMetricNames(names []string) error {
	seen := map[string]bool{}
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		clean = append(clean, n)
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	return s.SetSetting(SettingMetricNames, string(raw))
}

// --- parameter sets ---

// SaveParameterSet upserts by name and returns the stored record.
func (s *SQLiteDB) SaveParameterSet(set ParameterSet) (ParameterSet, error) {
	set.Name = strings.TrimSpace(set.Name)
	if set.Name == "" {
		return ParameterSet{}, errors.New("store: parameter set name is required")
	}
	if set.ID == "" {
		set.ID = uuid.NewString()
	}
	if set.RunsPerParamCombo <= 0 {
		set.RunsPerParamCombo = 1
	}
	if set.MaxRuntimeMinutes <= 0 {
		set.MaxRuntimeMinutes = 10
	}
	params, err := json.Marshal(set.Parameters)
	if err != nil {
		return ParameterSet{}, fmt.Errorf("store: encode parameters: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO parameter_sets (id, name, parameters_json, runs_per_combo, max_runtime_minutes)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   parameters_json = excluded.parameters_json,
		   runs_per_combo = excluded.runs_per_combo,
		   max_runtime_minutes = excluded.max_runtime_minutes,
		   updated_at = CURRENT_TIMESTAMP`,
		set.ID, set.Name, string(params), set.RunsPerParamCombo, set.MaxRuntimeMinutes,
	)
	if err != nil {
		return ParameterSet{}, fmt.Errorf("store: save parameter set: %w", err)
	}

	saved, err := s.ParameterSet(set.Name)
	if err != nil {
		return ParameterSet{}, err
	}
	return *saved, nil
}

const parameterSetColumns = `id, name, parameters_json, runs_per_combo, max_runtime_minutes, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanParameterSet(row scanner) (ParameterSet, error) {
	var set ParameterSet
	var params string
	if err := row.Scan(&set.ID, &set.Name, &params, &set.RunsPerParamCombo, &set.MaxRuntimeMinutes, &set.CreatedAt, &set.UpdatedAt); err != nil {
		return ParameterSet{}, err
	}
	if err := json.Unmarshal([]byte(params), &set.Parameters); err != nil {
		return ParameterSet{}, fmt.Errorf("store: decode parameters of %s: %w", set.Name, err)
	}
	return set, nil
}

func (s *SQLiteDB) ParameterSet(name string) (*ParameterSet, error) {
	row := s.db.QueryRow(`SELECT `+parameterSetColumns+` FROM parameter_sets WHERE name = ?`, strings.TrimSpace(name))
	set, err := scanParameterSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: parameter set %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get parameter set: %w", err)
	}
	return &set, nil
}

// ListParameterSets returns all sets, most recently updated first.
func (s *SQLiteDB) ListParameterSets() ([]ParameterSet, error) {
	rows, err := s.db.Query(`SELECT ` + parameterSetColumns + ` FROM parameter_sets ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("store: list parameter sets: %w", err)
	}
	defer rows.Close()

	var out []ParameterSet
	for rows.Next() {
		set, err := scanParameterSet(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan parameter set: %w", err)
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) DeleteParameterSet(name string) error {
	res, err := s.db.Exec(`DELETE FROM parameter_sets WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("store: delete parameter set: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: parameter set %q", ErrNotFound, name)
	}
	return nil
}

// --- history ---

func (s *SQLiteDB) RecordBuild(b BuildRecord) error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("store: build id is required")
	}
	if b.Metrics == nil {
		b.Metrics = []string{}
	}
	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return err
	}
	if b.UploadedAt.IsZero() {
		b.UploadedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO builds (id, name, zip_path, metrics_json, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.ZipPath, string(metrics), b.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("store: record build: %w", err)
	}
	return nil
}

// ListBuilds returns the newest builds first. limit <= 0 means no limit.
func (s *SQLiteDB) ListBuilds(limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, name, zip_path, metrics_json, uploaded_at FROM builds ORDER BY uploaded_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var b BuildRecord
		var metrics string
		if err := rows.Scan(&b.ID, &b.Name, &b.ZipPath, &metrics, &b.UploadedAt); err != nil {
			return nil, fmt.Errorf("store: scan build: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &b.Metrics); err != nil {
			return nil, fmt.Errorf("store: decode build metrics: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) RecordJob(j JobRecord) error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("store: job id is required")
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO jobs (id, name, build_id, parameter_set, runs_per_combo, max_runtime_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.BuildID, j.ParameterSet, j.RunsPerParamCombo, j.MaxRuntimeMinutes, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: record job: %w", err)
	}
	return nil
}

// ListJobs returns the newest jobs first. limit <= 0 means no limit.
func (s *SQLiteDB) ListJobs(limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, name, build_id, parameter_set, runs_per_combo, max_runtime_minutes, created_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.ID, &j.Name, &j.BuildID, &j.ParameterSet, &j.RunsPerParamCombo, &j.MaxRuntimeMinutes, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
