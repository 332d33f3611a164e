package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

func newStoreWithMock(t *testing.T, executor *resilience.Executor) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewStore(db, executor), mock, func() { _ = db.Close() }
}

func TestBuildSelect(t *testing.T) {
	query, args, err := buildSelect(domain.TableInvoices, domain.Where(
		domain.Eq("restaurant_id", 7),
		domain.Gte("invoice_date", "2025-01-01"),
		domain.In("status", "parsed", "confirmed"),
		domain.IsNull("deleted_at"),
		domain.Neq("supplier_name_extracted", "X"),
	).OrderBy("invoice_date", true).OrderBy("id", false).WithLimit(5))
	if err != nil {
		t.Fatalf("buildSelect() error = %v", err)
	}
	want := `SELECT to_jsonb(t) FROM "invoices" AS t WHERE t."restaurant_id" = $1 AND t."invoice_date" >= $2 ` +
		`AND t."status" IN ($3, $4) AND t."deleted_at" IS NULL AND t."supplier_name_extracted" IS DISTINCT FROM $5 ` +
		`ORDER BY t."invoice_date" DESC NULLS LAST, t."id" ASC LIMIT 5`
	if query != want {
		t.Fatalf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 5 || args[0] != int64(7) || args[2] != "parsed" {
		t.Fatalf("args = %#v", args)
	}
}

func TestBuildRejectsUnknownIdentifiers(t *testing.T) {
	if _, _, err := buildSelect("pg_shadow", domain.Query{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown table error = %v", err)
	}
	_, _, err := buildSelect(domain.TableInvoices, domain.Where(domain.Eq(`id"; DROP TABLE invoices; --`, 1)))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("bad column error = %v", err)
	}
	if _, _, err := buildUpdate(domain.TableInvoices, nil, domain.Record{"status": "x"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("unfiltered update error = %v", err)
	}
}

func TestNormalizeValue(t *testing.T) {
	price := 12.5
	var missing *float64
	when := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 3, int64(3)},
		{"pointer", &price, 12.5},
		{"nil pointer", missing, nil},
		{"time", when, when.UTC()},
		{"map", map[string]any{"brand": "Gallo"}, `{"brand":"Gallo"}`},
		{"slice", []string{"a", "b"}, `["a","b"]`},
		{"named string", domain.IntentGeneral, string(domain.IntentGeneral)},
	}
	for _, tc := range tests {
		got, err := normalizeValue(tc.in)
		if err != nil {
			t.Fatalf("%s: error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: normalizeValue() = %#v, want %#v", tc.name, got, tc.want)
		}
	}
}

func TestFetchManyDecodesRows(t *testing.T) {
	store, mock, done := newStoreWithMock(t, nil)
	defer done()

	rows := sqlmock.NewRows([]string{"to_jsonb"}).
		AddRow([]byte(`{"id": 5, "product_name": "Arroz", "unit_price": 24.9, "tags": [1, 2.5], "created_at": "2025-03-01T10:00:00+00:00"}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(t) FROM "master_list" AS t WHERE t."product_name" ILIKE $1 LIMIT 10`)).
		WithArgs("%arroz%").
		WillReturnRows(rows)

	got, err := store.FetchMany(context.Background(), domain.TableMasterList,
		domain.Where(domain.Contains("product_name", "arroz")).WithLimit(10))
	if err != nil {
		t.Fatalf("FetchMany() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %+v", got)
	}
	row := got[0]
	if row["id"] != int64(5) || row["unit_price"] != 24.9 || row.String("product_name") != "Arroz" {
		t.Fatalf("row = %#v", row)
	}
	if tags := row["tags"].([]any); tags[0] != int64(1) || tags[1] != 2.5 {
		t.Fatalf("tags = %#v", tags)
	}
	if ts, ok := row.Time("created_at"); !ok || ts.Day() != 1 {
		t.Fatalf("created_at = %v", row["created_at"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchOneReturnsNilOnMiss(t *testing.T) {
	store, mock, done := newStoreWithMock(t, nil)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_jsonb(t) FROM "restaurants" AS t WHERE t."id" = $1 LIMIT 1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}))

	row, err := store.FetchOne(context.Background(), domain.TableRestaurants, domain.Where(domain.Eq("id", int64(9))))
	if err != nil || row != nil {
		t.Fatalf("FetchOne() = %v, %v", row, err)
	}
}

func TestFetchRetriesConnectionFailures(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	store, mock, done := newStoreWithMock(t, exec)
	defer done()

	query := regexp.QuoteMeta(`SELECT to_jsonb(t) FROM "invoices" AS t`)
	mock.ExpectQuery(query).WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}).AddRow([]byte(`{"id":"i1"}`)))

	rows, err := store.FetchMany(context.Background(), domain.TableInvoices, domain.Query{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("FetchMany() = %v, %v", rows, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertReturnsStoredRow(t *testing.T) {
	store, mock, done := newStoreWithMock(t, nil)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "product_price_watchlist" AS t ("alert_type", "is_active", "master_list_id", "restaurant_id") `+
			`VALUES ($1, $2, $3, $4) RETURNING to_jsonb(t)`)).
		WithArgs("price_drop", true, int64(5), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}).AddRow([]byte(`{"id":"w-1","restaurant_id":7}`)))

	row, err := store.Insert(context.Background(), domain.TableWatchlist, domain.Record{
		"restaurant_id":  int64(7),
		"master_list_id": 5,
		"alert_type":     "price_drop",
		"is_active":      true,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if row.String("id") != "w-1" || row.Int64("restaurant_id") != 7 {
		t.Fatalf("row = %#v", row)
	}
}

func TestInsertConstraintViolationIsInvalidInput(t *testing.T) {
	store, mock, done := newStoreWithMock(t, nil)
	defer done()

	mock.ExpectQuery("INSERT INTO").WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	_, err := store.Insert(context.Background(), domain.TableMonthlyReports, domain.Record{"report_month": 3})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}

func TestUpdateWithoutMatchesReturnsNil(t *testing.T) {
	store, mock, done := newStoreWithMock(t, nil)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "product_price_watchlist" AS t SET "is_active" = $1 WHERE t."id" = $2 AND t."restaurant_id" = $3 RETURNING to_jsonb(t)`)).
		WithArgs(false, "w-1", int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}))

	row, err := store.Update(context.Background(), domain.TableWatchlist,
		[]domain.Filter{domain.Eq("id", "w-1"), domain.Eq("restaurant_id", int64(8))},
		domain.Record{"is_active": false})
	if err != nil || row != nil {
		t.Fatalf("Update() = %v, %v", row, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
