package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightpath/compliance-core/internal/config"
)

// identifiers come from code, never from request input, but a tight pattern
// keeps a stray caller from smuggling SQL through a field name.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg *config.DatabaseConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Get(ctx context.Context, collection string, id uuid.UUID) (Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = $1", collection), id)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying %s: %w", collection, err)
		}
		return nil, ErrNotFound
	}

	return scanRecord(rows)
}

func (s *PostgresStore) List(ctx context.Context, collection string, filter Filter, opts ...ListOption) ([]Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}

	var options ListOptions
	for _, opt := range opts {
		opt(&options)
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", collection, where)
	if options.OrderBy != "" {
		if err := checkIdent(options.OrderBy); err != nil {
			return nil, err
		}
		query += " ORDER BY " + options.OrderBy
		if options.Desc {
			query += " DESC"
		}
	}
	if options.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", options.Limit)
	}
	if options.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", options.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, rec Record) error {
	if err := checkIdent(collection); err != nil {
		return err
	}

	cols, placeholders, args, err := insertParts(rec)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		collection, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting into %s: %w", collection, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection string, id uuid.UUID, changes Record) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	cols := sortedKeys(changes)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, changes[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", collection, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, collection string, rec Record) error {
	if err := checkIdent(collection); err != nil {
		return err
	}

	cols, placeholders, args, err := insertParts(rec)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		collection, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	if where == "" {
		return 0, fmt.Errorf("refusing to delete from %s without a filter", collection)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", collection, where), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", collection, where), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return count, nil
}

func buildWhere(filter Filter) (clause string, args []any, err error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(filter))
	for _, c := range filter {
		if err := checkIdent(c.Field); err != nil {
			return "", nil, err
		}
		switch c.Op {
		case opIsNull:
			conds = append(conds, c.Field+" IS NULL")
		case opNotNull:
			conds = append(conds, c.Field+" IS NOT NULL")
		case opEq, opLt, opLte, opGt, opGte:
			args = append(args, c.Value)
			conds = append(conds, fmt.Sprintf("%s %s $%d", c.Field, c.Op, len(args)))
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", c.Op)
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func insertParts(rec Record) (cols, placeholders []string, args []any, err error) {
	cols = sortedKeys(rec)
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return nil, nil, nil, err
		}
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, rec[col])
	}
	return cols, placeholders, args, nil
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func scanRecord(rows pgx.Rows) (Record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("reading row: %w", err)
	}

	rec := make(Record, len(values))
	for i, fd := range rows.FieldDescriptions() {
		rec[string(fd.Name)] = values[i]
	}
	return rec, nil
}
