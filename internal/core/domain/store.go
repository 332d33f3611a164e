package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tables of the shared restaurant database.
const (
	TableMasterList            = "master_list"
	TableSuppliers             = "suppliers"
	TableRestaurants           = "restaurants"
	TableRestaurantPeople      = "restaurant_people"
	TablePricingHistory        = "pricing_history"
	TableFinanceOnboarding     = "finance_onboarding"
	TableInvoices              = "invoices"
	TableInvoiceLineItems      = "invoice_line_items"
	TableMenuItems             = "menu_items"
	TableMenuItemIngredients   = "menu_item_ingredients"
	TableMenuCostHistory       = "menu_cost_history"
	TableWatchlist             = "product_price_watchlist"
	TableMonthlyReports        = "monthly_financial_reports"
	TableCompositionLog        = "prompt_composition_log"
	TablePreferenceQueue       = "preference_collection_queue"
	TableEngagementProfile     = "engagement_profile"
	TablePreferenceCorrections = "preference_corrections"
	TableProductPreferences    = "restaurant_product_preferences"
)

// Record is one row of the store, keyed by column name.
type Record map[string]any

func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (r Record) Float(key string) float64 {
	f, _ := toFloat(r[key])
	return f
}

// FloatOK reports whether the column holds a numeric value.
func (r Record) FloatOK(key string) (float64, bool) {
	return toFloat(r[key])
}

func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return int64(f)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func (r Record) Int(key string) int {
	return int(r.Int64(key))
}

func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

// Time parses timestamp and date columns as the store renders them.
func (r Record) Time(key string) (time.Time, bool) {
	switch v := r[key].(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func (r Record) StringSlice(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpILike   Operator = "ilike"
	OpIsNull  Operator = "is_null"
	OpNotNull Operator = "not_null"
)

// Filter is one column predicate. Filters in a Query are AND-ed.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

func Eq(column string, value any) Filter     { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter    { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gt(column string, value any) Filter     { return Filter{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Filter    { return Filter{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Filter     { return Filter{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Filter    { return Filter{Column: column, Op: OpLte, Value: value} }
func In(column string, values ...any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }
func IsNull(column string) Filter            { return Filter{Column: column, Op: OpIsNull} }
func NotNull(column string) Filter           { return Filter{Column: column, Op: OpNotNull} }

// ILike matches case-insensitively; pattern uses SQL wildcards.
func ILike(column, pattern string) Filter { return Filter{Column: column, Op: OpILike, Value: pattern} }

// Contains is an ILike on %term%.
func Contains(column, term string) Filter { return ILike(column, "%"+term+"%") }

type Order struct {
	Column string
	Desc   bool
}

// Query selects rows of one table.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: column, Desc: desc})
	return q
}

func (q Query) WithLimit(limit int) Query {
	q.Limit = limit
	return q
}
