package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store mirrors chat and FSM entities keyed by their external ids.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// Upsert inserts or updates the entity in one transaction and reports whether the row
// was created along with the status it held before the update. Referenced parent rows
// named in fields are created as stubs first when missing; a stub is reported as
// created when its own upsert first lands.
func (s *Store) Upsert(ctx context.Context, et EntityType, externalID string, fields Fields) (UpsertResult, error) {
	spec, err := specFor(et)
	if err != nil {
		return UpsertResult{}, err
	}
	if externalID == "" {
		return UpsertResult{}, ErrEmptyExternalID
	}
	cols, args, err := encodeFields(spec, fields)
	if err != nil {
		return UpsertResult{}, err
	}

	now := s.timestamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, name := range cols {
		c, _ := spec.column(name)
		parent, _ := args[i].(string)
		if c.ref == "" || parent == "" {
			continue
		}
		if _, err := s.insertStub(ctx, tx, c.ref, parent, now); err != nil {
			return UpsertResult{}, err
		}
	}

	if _, err := s.insertStub(ctx, tx, spec.table, externalID, now); err != nil {
		return UpsertResult{}, err
	}

	// A row that only exists as a parent stub counts as created by its first full upsert.
	statusCol := "NULL"
	if spec.status != "" {
		statusCol = spec.status
	}
	var (
		status   sql.NullString
		hydrated sql.NullString
	)
	q := fmt.Sprintf("SELECT %s, hydrated_at FROM %s WHERE external_id = ?", statusCol, spec.table) + s.lockClause()
	if err := tx.QueryRowContext(ctx, s.rebind(q), externalID).Scan(&status, &hydrated); err != nil {
		return UpsertResult{}, fmt.Errorf("read prior %s: %w", et, err)
	}
	created := !hydrated.Valid
	prior := EntityRef{ExternalID: externalID, EntityType: et}
	if !created && status.Valid {
		v := status.String
		prior.LastKnownStatus = &v
	}

	set := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		set = append(set, c+" = ?")
	}
	set = append(set, "updated_at = ?", "hydrated_at = COALESCE(hydrated_at, ?)")
	updateArgs := append(append(args, now, now), externalID)
	q = fmt.Sprintf("UPDATE %s SET %s WHERE external_id = ?", spec.table, strings.Join(set, ", "))
	if _, err := tx.ExecContext(ctx, s.rebind(q), updateArgs...); err != nil {
		return UpsertResult{}, fmt.Errorf("update %s %q: %w", et, externalID, err)
	}

	rec, err := s.get(ctx, tx, et, spec, externalID)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return UpsertResult{Record: rec, Created: created, Prior: prior}, nil
}

// Get returns the stored entity or ErrNotFound.
func (s *Store) Get(ctx context.Context, et EntityType, externalID string) (Record, error) {
	spec, err := specFor(et)
	if err != nil {
		return Record{}, err
	}
	return s.get(ctx, s.db, et, spec, externalID)
}

// List returns entities ordered by most recently updated.
func (s *Store) List(ctx context.Context, et EntityType, opts ListOptions) ([]Record, error) {
	spec, err := specFor(et)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", s.selectList(spec), spec.table)
	var args []any
	if opts.ActiveOnly && spec.active {
		q += " WHERE is_active = ?"
		args = append(args, true)
	}
	q += " ORDER BY updated_at DESC, id DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", et, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, et, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", et, err)
	}
	return out, nil
}

// Count returns the number of stored entities of a type.
func (s *Store) Count(ctx context.Context, et EntityType, opts ListOptions) (int, error) {
	spec, err := specFor(et)
	if err != nil {
		return 0, err
	}
	q := "SELECT COUNT(*) FROM " + spec.table
	var args []any
	if opts.ActiveOnly && spec.active {
		q += " WHERE is_active = ?"
		args = append(args, true)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(q), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", et, err)
	}
	return n, nil
}

// Deactivate soft-deletes an entity. Rows are never removed.
func (s *Store) Deactivate(ctx context.Context, et EntityType, externalID string) error {
	spec, err := specFor(et)
	if err != nil {
		return err
	}
	if !spec.active {
		return fmt.Errorf("%w: %s", ErrNotDeactivatable, et)
	}
	q := fmt.Sprintf("UPDATE %s SET is_active = ?, updated_at = ? WHERE external_id = ?", spec.table)
	res, err := s.db.ExecContext(ctx, s.rebind(q), false, s.timestamp(), externalID)
	if err != nil {
		return fmt.Errorf("deactivate %s %q: %w", et, externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate %s %q: %w", et, externalID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) insertStub(ctx context.Context, q querier, table, externalID, now string) (bool, error) {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (external_id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (external_id) DO NOTHING",
		table,
	)
	res, err := q.ExecContext(ctx, s.rebind(stmt), externalID, now, now)
	if err != nil {
		return false, fmt.Errorf("insert %s %q: %w", table, externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s %q: %w", table, externalID, err)
	}
	return n == 1, nil
}

func (s *Store) get(ctx context.Context, q querier, et EntityType, spec *tableSpec, externalID string) (Record, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE external_id = ?", s.selectList(spec), spec.table)
	rows, err := q.QueryContext(ctx, s.rebind(stmt), externalID)
	if err != nil {
		return Record{}, fmt.Errorf("get %s %q: %w", et, externalID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, fmt.Errorf("get %s %q: %w", et, externalID, err)
		}
		return Record{}, ErrNotFound
	}
	return scanRecord(rows, et, spec)
}

func (s *Store) selectList(spec *tableSpec) string {
	parts := make([]string, 0, len(spec.columns)+4)
	parts = append(parts, "id", "external_id")
	for _, c := range spec.columns {
		if c.kind == colDecimal && s.dialect == DialectPostgres {
			parts = append(parts, fmt.Sprintf("CAST(%s AS TEXT)", c.name))
			continue
		}
		parts = append(parts, c.name)
	}
	return strings.Join(append(parts, "created_at", "updated_at"), ", ")
}

func (s *Store) lockClause() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// encodeFields validates field names and converts values to driver values. Columns are
// returned sorted so statements are stable.
func encodeFields(spec *tableSpec, fields Fields) ([]string, []any, error) {
	cols := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := spec.column(name); !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, spec.table, name)
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, name := range cols {
		c, _ := spec.column(name)
		v, err := encodeValue(c, fields[name])
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", spec.table, name, err)
		}
		args[i] = v
	}
	return cols, args, nil
}

func encodeValue(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && c.ref != "" {
		return nil, nil
	}
	switch c.kind {
	case colJSON:
		switch t := v.(type) {
		case json.RawMessage:
			if t == nil {
				return nil, nil
			}
			return string(t), nil
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}
	case colBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case *bool:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		}
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case *string:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		case json.Number:
			return t.String(), nil
		}
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner, et EntityType, spec *tableSpec) (Record, error) {
	var (
		rec                  = Record{EntityType: et, Fields: make(map[string]any, len(spec.columns))}
		createdAt, updatedAt string
	)
	raw := make([]any, len(spec.columns))
	dest := make([]any, 0, len(spec.columns)+4)
	dest = append(dest, &rec.ID, &rec.ExternalID)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	dest = append(dest, &createdAt, &updatedAt)
	if err := sc.Scan(dest...); err != nil {
		return Record{}, fmt.Errorf("scan %s: %w", et, err)
	}

	for i, c := range spec.columns {
		v, err := decodeValue(c, raw[i])
		if err != nil {
			return Record{}, fmt.Errorf("decode %s.%s: %w", spec.table, c.name, err)
		}
		rec.Fields[c.name] = v
	}
	if spec.status != "" {
		if st, ok := rec.Fields[spec.status].(string); ok {
			rec.Status = &st
		}
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

func decodeValue(c column, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && c.ref != "" {
		return nil, nil
	}
	switch c.kind {
	case colBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		}
	case colJSON:
		if s, ok := v.(string); ok {
			return json.RawMessage(s), nil
		}
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		}
	}
	return nil, fmt.Errorf("unexpected driver value %T", v)
}
