package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	// pragmas in the DSN apply to every connection the pool opens
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// uniqueViolation maps a sqlite UNIQUE/PRIMARY KEY failure to ErrConflict.
func uniqueViolation(err error, what, id string) error {
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s %s: %w", what, id, ErrConflict)
	}
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema applies pending migrations.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return runMigrations(s.db)
}

// ---- properties ----

const propertyColumns = `id, title, type, price, location, status, bedrooms, bathrooms, area, description, image_urls_json, features_json`

const upsertPropertySQL = `
INSERT INTO properties (` + propertyColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  type = excluded.type,
  price = excluded.price,
  location = excluded.location,
  status = excluded.status,
  bedrooms = excluded.bedrooms,
  bathrooms = excluded.bathrooms,
  area = excluded.area,
  description = excluded.description,
  image_urls_json = excluded.image_urls_json,
  features_json = excluded.features_json
`

func propertyArgs(p domain.Property) []any {
	img, _ := json.Marshal(p.ImageURLs)
	ft, _ := json.Marshal(p.Features)
	return []any{
		p.ID, p.Title, string(p.Type), p.Price, p.Location, string(p.Status),
		nullInt(p.Bedrooms), nullInt(p.Bathrooms), p.Area, p.Description, string(img), string(ft),
	}
}

// UpsertProperties inserts or updates a dataset keyed by id.
func (s *SQLiteStore) UpsertProperties(ctx context.Context, items []domain.Property) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertPropertySQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range items {
		if _, err := stmt.ExecContext(ctx, propertyArgs(p)...); err != nil {
			return fmt.Errorf("upsert property %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error) {
	if p.ID == "" {
		p.ID = "p-" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO properties (`+propertyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, propertyArgs(p)...)
	if err != nil {
		return domain.Property{}, uniqueViolation(err, "property", p.ID)
	}
	return p, nil
}

func (s *SQLiteStore) DeleteProperty(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Property{}, fmt.Errorf("property %s: %w", id, ErrNotFound)
	}
	return p, err
}

// AllProperties returns the whole catalog in insertion order.
func (s *SQLiteStore) AllProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProperties(rows)
}

type PropertyFilter struct {
	Limit       int
	Offset      int
	Location    string
	MinPrice    float64
	MaxPrice    float64
	MinBedrooms int
	Type        domain.PropertyType
	Status      domain.PropertyStatus
	Sort        string
}

func (s *SQLiteStore) ListPropertiesFiltered(ctx context.Context, f PropertyFilter) ([]domain.Property, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if strings.TrimSpace(f.Location) != "" {
		where = append(where, "LOWER(location) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Location)
	}
	if f.MinPrice > 0 {
		where = append(where, "price >= ?")
		args = append(args, f.MinPrice)
	}
	if f.MaxPrice > 0 {
		where = append(where, "price <= ?")
		args = append(args, f.MaxPrice)
	}
	if f.MinBedrooms > 0 {
		where = append(where, "bedrooms >= ?")
		args = append(args, f.MinBedrooms)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	orderSQL := "ORDER BY rowid"
	switch f.Sort {
	case "price_asc":
		orderSQL = "ORDER BY price ASC"
	case "price_desc":
		orderSQL = "ORDER BY price DESC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM properties "+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rowsSQL := "SELECT " + propertyColumns + " FROM properties " + whereSQL + "\n" + orderSQL + "\nLIMIT ? OFFSET ?"
	rowsArgs := append(append([]any{}, args...), f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, rowsSQL, rowsArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectProperties(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(r rowScanner) (domain.Property, error) {
	var p domain.Property
	var typ, status, imgJSON, ftJSON string
	var bedrooms, bathrooms sql.NullInt64

	if err := r.Scan(
		&p.ID, &p.Title, &typ, &p.Price, &p.Location, &status,
		&bedrooms, &bathrooms, &p.Area, &p.Description, &imgJSON, &ftJSON,
	); err != nil {
		return domain.Property{}, err
	}
	p.Type = domain.PropertyType(typ)
	p.Status = domain.PropertyStatus(status)
	p.Bedrooms = intPtr(bedrooms)
	p.Bathrooms = intPtr(bathrooms)
	_ = json.Unmarshal([]byte(imgJSON), &p.ImageURLs)
	_ = json.Unmarshal([]byte(ftJSON), &p.Features)
	return p, nil
}

func collectProperties(rows *sql.Rows) ([]domain.Property, error) {
	var out []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- prospects ----

const prospectColumns = `id, name, email, phone, status, preferences_json`

func prospectArgs(q domain.Prospect) []any {
	prefs, _ := json.Marshal(q.Preferences)
	return []any{q.ID, q.Name, q.Email, q.Phone, string(q.Status), string(prefs)}
}

func (s *SQLiteStore) UpsertProspects(ctx context.Context, items []domain.Prospect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO prospects (`+prospectColumns+`) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  email = excluded.email,
  phone = excluded.phone,
  status = excluded.status,
  preferences_json = excluded.preferences_json
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, q := range items {
		if _, err := stmt.ExecContext(ctx, prospectArgs(q)...); err != nil {
			return fmt.Errorf("upsert prospect %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateProspect(ctx context.Context, q domain.Prospect) (domain.Prospect, error) {
	if q.ID == "" {
		q.ID = "c-" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO prospects (`+prospectColumns+`) VALUES (?, ?, ?, ?, ?, ?)`, prospectArgs(q)...)
	if err != nil {
		return domain.Prospect{}, uniqueViolation(err, "prospect", q.ID)
	}
	return q, nil
}

func (s *SQLiteStore) DeleteProspect(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prospects WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (domain.Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id)
	q, err := scanProspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Prospect{}, fmt.Errorf("prospect %s: %w", id, ErrNotFound)
	}
	return q, err
}

// AllProspects returns every prospect in insertion order.
func (s *SQLiteStore) AllProspects(ctx context.Context) ([]domain.Prospect, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProspects(rows)
}

func (s *SQLiteStore) ListProspects(ctx context.Context, limit, offset int, status domain.ProspectStatus) ([]domain.Prospect, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	whereSQL := ""
	var args []any
	if status != "" {
		whereSQL = "WHERE status = ?"
		args = append(args, string(status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM prospects "+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+prospectColumns+" FROM prospects "+whereSQL+" ORDER BY rowid LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectProspects(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanProspect(r rowScanner) (domain.Prospect, error) {
	var q domain.Prospect
	var status, prefsJSON string
	if err := r.Scan(&q.ID, &q.Name, &q.Email, &q.Phone, &status, &prefsJSON); err != nil {
		return domain.Prospect{}, err
	}
	q.Status = domain.ProspectStatus(status)
	if err := json.Unmarshal([]byte(prefsJSON), &q.Preferences); err != nil {
		return domain.Prospect{}, fmt.Errorf("decode preferences of %s: %w", q.ID, err)
	}
	return q, nil
}

func collectProspects(rows *sql.Rows) ([]domain.Prospect, error) {
	var out []domain.Prospect
	for rows.Next() {
		q, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ---- matches ----

const matchColumns = `id, run_id, property_id, prospect_id, score, reasons_json, status, created_at`

// SaveMatchRun stores the output of one discovery run under a new run id.
// Earlier runs are left untouched. Matches without an id get one.
func (s *SQLiteStore) SaveMatchRun(ctx context.Context, minScore int, matches []domain.Match) (string, []domain.Match, error) {
	runID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO match_runs (id, min_score, match_count, created_at) VALUES (?, ?, ?, ?)`,
		runID, minScore, len(matches), now,
	); err != nil {
		return "", nil, fmt.Errorf("insert match run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO matches (`+matchColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", nil, err
	}
	defer stmt.Close()

	out := make([]domain.Match, len(matches))
	for i, m := range matches {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.RunID = runID
		reasons, _ := json.Marshal(m.Reasons)
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.RunID, m.PropertyID, m.ProspectID, m.Score, string(reasons), string(m.Status),
			m.CreatedAt.UTC().Format(time.RFC3339Nano), now,
		); err != nil {
			return "", nil, fmt.Errorf("insert match %s/%s: %w", m.PropertyID, m.ProspectID, err)
		}
		out[i] = m
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return runID, out, nil
}

// LatestRunMatches returns the matches of the most recent run in stored
// order. An empty run id means no run has been saved yet.
func (s *SQLiteStore) LatestRunMatches(ctx context.Context) (string, []domain.Match, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM match_runs ORDER BY rowid DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	matches, err := s.ListMatches(ctx, MatchFilter{RunID: runID})
	return runID, matches, err
}

type MatchFilter struct {
	RunID      string
	PropertyID string
	ProspectID string
	Status     domain.MatchStatus
}

// ListMatches returns matching rows best first, ties in insertion order.
func (s *SQLiteStore) ListMatches(ctx context.Context, f MatchFilter) ([]domain.Match, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.PropertyID != "" {
		where = append(where, "property_id = ?")
		args = append(args, f.PropertyID)
	}
	if f.ProspectID != "" {
		where = append(where, "prospect_id = ?")
		args = append(args, f.ProspectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+matchColumns+" FROM matches "+whereSQL+" ORDER BY score DESC, rowid ASC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMatch(ctx context.Context, id string) (domain.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Match{}, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return m, err
}

// UpdateMatchStatus moves a match along its lifecycle. Disallowed moves
// return domain.ErrInvalidTransition.
func (s *SQLiteStore) UpdateMatchStatus(ctx context.Context, id string, next domain.MatchStatus) (domain.Match, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Match{}, err
	}
	defer func() { _ = tx.Rollback() }()

	m, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Match{}, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Match{}, err
	}
	if !m.Status.CanTransition(next) {
		return domain.Match{}, fmt.Errorf("%s -> %s: %w", m.Status, next, domain.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339Nano), id,
	); err != nil {
		return domain.Match{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Match{}, err
	}
	m.Status = next
	return m, nil
}

func scanMatch(r rowScanner) (domain.Match, error) {
	var m domain.Match
	var reasonsJSON, status, createdAt string
	if err := r.Scan(&m.ID, &m.RunID, &m.PropertyID, &m.ProspectID, &m.Score, &reasonsJSON, &status, &createdAt); err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	_ = json.Unmarshal([]byte(reasonsJSON), &m.Reasons)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.Match{}, fmt.Errorf("parse created_at of match %s: %w", m.ID, err)
	}
	m.CreatedAt = t
	return m, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
