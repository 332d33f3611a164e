package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// knownTables are the only relations the generic store touches.
var knownTables = map[string]bool{
	domain.TableMasterList:            true,
	domain.TableSuppliers:             true,
	domain.TableRestaurants:           true,
	domain.TableRestaurantPeople:      true,
	domain.TablePricingHistory:        true,
	domain.TableFinanceOnboarding:     true,
	domain.TableInvoices:              true,
	domain.TableInvoiceLineItems:      true,
	domain.TableMenuItems:             true,
	domain.TableMenuItemIngredients:   true,
	domain.TableMenuCostHistory:       true,
	domain.TableWatchlist:             true,
	domain.TableMonthlyReports:        true,
	domain.TableCompositionLog:        true,
	domain.TablePreferenceQueue:       true,
	domain.TablePreferenceCorrections: true,
	domain.TableEngagementProfile:     true,
	domain.TableProductPreferences:    true,
}

// Store implements ports.Store over the restaurant database. Rows come back
// as to_jsonb objects so every table shares one scan path.
type Store struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewStore(db *sql.DB, executor *resilience.Executor) *Store {
	return &Store{db: db, executor: executor}
}

func (s *Store) FetchOne(ctx context.Context, table string, q domain.Query) (domain.Record, error) {
	q.Limit = 1
	rows, err := s.FetchMany(ctx, table, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Store) FetchMany(ctx context.Context, table string, q domain.Query) ([]domain.Record, error) {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := resilience.Call(ctx, s.executor, "postgres.fetch", func(callCtx context.Context) ([]domain.Record, error) {
		return s.queryRecords(callCtx, query, args)
	}, classifyPostgresError)
	if err != nil {
		return nil, translateError("fetch "+table, err)
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error) {
	query, args, err := buildInsert(table, record)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRecords(ctx, query, args)
	if err != nil {
		return nil, translateError("insert "+table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return rows[0], nil
}

func (s *Store) Update(ctx context.Context, table string, filters []domain.Filter, patch domain.Record) (domain.Record, error) {
	query, args, err := buildUpdate(table, filters, patch)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRecords(ctx, query, args)
	if err != nil {
		return nil, translateError("update "+table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args []any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRecord(raw []byte) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	for k, v := range obj {
		obj[k] = normalizeNumbers(v)
	}
	return domain.Record(obj), nil
}

// normalizeNumbers turns json.Number into int64 when integral, else float64.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeNumbers(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeNumbers(inner)
		}
		return val
	default:
		return v
	}
}

type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) bind(v any) (string, error) {
	value, err := normalizeValue(v)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, value)
	return "$" + strconv.Itoa(len(b.args)), nil
}

func quoteTable(table string) (string, error) {
	if !knownTables[table] {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve table", fmt.Errorf("unknown table %q", table))
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

func quoteColumn(column string) (string, error) {
	if !columnPattern.MatchString(column) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve column", fmt.Errorf("invalid column %q", column))
	}
	return pgx.Identifier{column}.Sanitize(), nil
}

var comparison = map[domain.Operator]string{
	domain.OpEq:    "=",
	domain.OpNeq:   "IS DISTINCT FROM",
	domain.OpGt:    ">",
	domain.OpGte:   ">=",
	domain.OpLt:    "<",
	domain.OpLte:   "<=",
	domain.OpILike: "ILIKE",
}

func (b *sqlBuilder) where(filters []domain.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		col, err := quoteColumn(f.Column)
		if err != nil {
			return "", err
		}
		switch f.Op {
		case domain.OpIsNull:
			clauses = append(clauses, "t."+col+" IS NULL")
		case domain.OpNotNull:
			clauses = append(clauses, "t."+col+" IS NOT NULL")
		case domain.OpIn:
			values, _ := f.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "FALSE")
				continue
			}
			placeholders := make([]string, 0, len(values))
			for _, v := range values {
				ph, err := b.bind(v)
				if err != nil {
					return "", err
				}
				placeholders = append(placeholders, ph)
			}
			clauses = append(clauses, "t."+col+" IN ("+strings.Join(placeholders, ", ")+")")
		default:
			op, ok := comparison[f.Op]
			if !ok {
				return "", domain.WrapError(domain.ErrInvalidInput, "build filter", fmt.Errorf("unsupported operator %q", f.Op))
			}
			ph, err := b.bind(f.Value)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, "t."+col+" "+op+" "+ph)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func buildSelect(table string, q domain.Query) (string, []any, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT to_jsonb(t) FROM " + tbl + " AS t")

	where, err := b.where(q.Filters)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)

	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			col, err := quoteColumn(o.Column)
			if err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC NULLS LAST"
			}
			parts = append(parts, "t."+col+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), b.args, nil
}

// sortedColumns keeps generated SQL stable for the same record.
func sortedColumns(record domain.Record) []string {
	cols := make([]string, 0, len(record))
	for k := range record {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, record domain.Record) (string, []any, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	if len(record) == 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "build insert", errors.New("empty record"))
	}
	b := &sqlBuilder{}
	cols := sortedColumns(record)
	quoted := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, c := range cols {
		col, err := quoteColumn(c)
		if err != nil {
			return "", nil, err
		}
		ph, err := b.bind(record[c])
		if err != nil {
			return "", nil, err
		}
		quoted = append(quoted, col)
		placeholders = append(placeholders, ph)
	}
	query := "INSERT INTO " + tbl + " AS t (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ") RETURNING to_jsonb(t)"
	return query, b.args, nil
}

func buildUpdate(table string, filters []domain.Filter, patch domain.Record) (string, []any, error) {
	tbl, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "build update", errors.New("empty patch"))
	}
	if len(filters) == 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "build update", errors.New("update without filters"))
	}
	b := &sqlBuilder{}
	cols := sortedColumns(patch)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		col, err := quoteColumn(c)
		if err != nil {
			return "", nil, err
		}
		ph, err := b.bind(patch[c])
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, col+" = "+ph)
	}
	where, err := b.where(filters)
	if err != nil {
		return "", nil, err
	}
	query := "UPDATE " + tbl + " AS t SET " + strings.Join(sets, ", ") + where + " RETURNING to_jsonb(t)"
	return query, b.args, nil
}

// normalizeValue converts record values into driver arguments: pointers are
// dereferenced, composite values become JSON for jsonb columns.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64, []byte:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		return val.Float64()
	case time.Time:
		return val.UTC(), nil
	case json.RawMessage:
		return string(val), nil
	case driver.Valuer:
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json column: %w", err)
		}
		return string(payload), nil
	}
	return v, nil
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions; everything else is a query problem.
		if strings.HasPrefix(pgErr.Code, "08") {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyTransport(err)
}

// translateError maps constraint violations to invalid input and connection
// failures to temporary errors.
func translateError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	}
	if classifyPostgresError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
