package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	ReportStatusAwaitingRevenue = "awaiting_revenue"
	ReportStatusComplete        = "complete"

	invoiceStatusUploaded  = "uploaded"
	invoiceStatusParsed    = "parsed"
	invoiceStatusConfirmed = "confirmed"

	criticalCMVPercent = 40.0
	unknownSupplier    = "Desconhecido"
)

// MonthlyPurchases is the invoice spend of a restaurant inside one month.
type MonthlyPurchases struct {
	Total        float64                `json:"total"`
	InvoiceCount int                    `json:"invoice_count"`
	Suppliers    []domain.SupplierSpend `json:"by_supplier"`
	InvoiceIDs   []any                  `json:"-"`
}

// MonthBounds returns the first day of the month and of the next one as ISO dates.
func MonthBounds(year, month int) (string, string) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start.Format(time.DateOnly), start.AddDate(0, 1, 0).Format(time.DateOnly)
}

// PreviousMonth returns the month before (year, month).
func PreviousMonth(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// DefaultClosurePeriod is the previous month during the first ten days of
// a month and the current month afterwards.
func DefaultClosurePeriod(now time.Time) (int, int) {
	if now.Day() <= 10 {
		return PreviousMonth(now.Year(), int(now.Month()))
	}
	return now.Year(), int(now.Month())
}

// CMVStatus classifies a CMV percentage against the restaurant target.
func CMVStatus(cmvPercent, target float64) string {
	switch {
	case cmvPercent <= target:
		return domain.CMVStatusOnTarget
	case cmvPercent <= criticalCMVPercent:
		return domain.CMVStatusAboveTarget
	default:
		return domain.CMVStatusCritical
	}
}

// Cashflow computes monthly purchases and closure reports.
type Cashflow struct {
	store ports.Store
	now   func() time.Time
}

func NewCashflow(store ports.Store) *Cashflow {
	return &Cashflow{store: store, now: time.Now}
}

// Purchases sums parsed and confirmed invoices of the month, grouped by supplier.
func (c *Cashflow) Purchases(ctx context.Context, restaurantID int64, year, month int) (MonthlyPurchases, error) {
	start, end := MonthBounds(year, month)
	invoices, err := c.store.FetchMany(ctx, domain.TableInvoices, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Gte("invoice_date", start),
		domain.Lt("invoice_date", end),
		domain.In("status", invoiceStatusParsed, invoiceStatusConfirmed),
	))
	if err != nil {
		return MonthlyPurchases{}, fmt.Errorf("fetch month invoices: %w", err)
	}

	out := MonthlyPurchases{InvoiceCount: len(invoices)}
	bySupplier := map[string]*domain.SupplierSpend{}
	var order []string
	for _, inv := range invoices {
		amount := inv.Float("total_amount")
		out.Total += amount
		out.InvoiceIDs = append(out.InvoiceIDs, inv["id"])

		name := inv.String("supplier_name_extracted")
		if name == "" {
			name = unknownSupplier
		}
		spend, ok := bySupplier[name]
		if !ok {
			spend = &domain.SupplierSpend{Name: name}
			bySupplier[name] = spend
			order = append(order, name)
		}
		spend.Total += amount
		spend.Count++
	}

	for _, name := range order {
		spend := *bySupplier[name]
		if out.Total > 0 {
			spend.Percent = round(spend.Total/out.Total*100, 1)
		}
		spend.Total = round(spend.Total, 2)
		out.Suppliers = append(out.Suppliers, spend)
	}
	sort.SliceStable(out.Suppliers, func(i, j int) bool {
		return out.Suppliers[i].Total > out.Suppliers[j].Total
	})
	out.Total = round(out.Total, 2)
	return out, nil
}

// StartClosure returns the report of the period, creating it when missing.
func (c *Cashflow) StartClosure(ctx context.Context, restaurantID int64, year, month int) (domain.Record, bool, error) {
	existing, err := c.store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Eq("report_year", year),
		domain.Eq("report_month", month),
	))
	if err != nil {
		return nil, false, fmt.Errorf("fetch monthly report: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	created, err := c.store.Insert(ctx, domain.TableMonthlyReports, domain.Record{
		"restaurant_id": restaurantID,
		"report_year":   year,
		"report_month":  month,
		"status":        ReportStatusAwaitingRevenue,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create monthly report: %w", err)
	}
	return created, false, nil
}

// GenerateReport recomputes purchases, CMV, comparison and insights for a
// report and stores the result.
func (c *Cashflow) GenerateReport(ctx context.Context, restaurantID int64, reportID string) (domain.MonthlyReport, error) {
	row, err := c.store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(domain.Eq("id", reportID)))
	if err != nil {
		return domain.MonthlyReport{}, fmt.Errorf("fetch monthly report: %w", err)
	}
	if row == nil || (restaurantID != 0 && row.Int64("restaurant_id") != restaurantID) {
		return domain.MonthlyReport{}, domain.WrapError(domain.ErrNotFound, "generate report", errors.New("report not found"))
	}

	report := domain.MonthlyReport{
		ID:           reportID,
		RestaurantID: row.Int64("restaurant_id"),
		Year:         row.Int("report_year"),
		Month:        row.Int("report_month"),
		Revenue:      row.Float("total_revenue"),
		CMVTarget:    DefaultCMVTarget,
	}
	if target, ok := row.FloatOK("cmv_target_percent"); ok {
		report.CMVTarget = target
	}

	purchases, err := c.Purchases(ctx, report.RestaurantID, report.Year, report.Month)
	if err != nil {
		return domain.MonthlyReport{}, err
	}
	report.Purchases = purchases.Total
	report.InvoiceCount = purchases.InvoiceCount
	report.Suppliers = purchases.Suppliers

	cmv := 0.0
	if report.Revenue > 0 {
		cmv = purchases.Total / report.Revenue * 100
	}
	report.CMVPercent = round(cmv, 2)
	report.Status = CMVStatus(cmv, report.CMVTarget)

	prevYear, prevMonth := PreviousMonth(report.Year, report.Month)
	prev, err := c.store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(
		domain.Eq("restaurant_id", report.RestaurantID),
		domain.Eq("report_year", prevYear),
		domain.Eq("report_month", prevMonth),
	))
	if err != nil {
		return domain.MonthlyReport{}, fmt.Errorf("fetch previous report: %w", err)
	}
	if prev != nil {
		if prevPurchases := prev.Float("total_purchases"); prevPurchases > 0 {
			change := round(changePercent(purchases.Total, prevPurchases), 1)
			report.MoMChange = &change
		}
	}

	categories, err := CategoryBreakdown(ctx, c.store, purchases.InvoiceIDs)
	if err != nil {
		return domain.MonthlyReport{}, err
	}
	report.Categories = categories
	report.Insights = reportInsights(report, cmv)

	_, err = c.store.Update(ctx, domain.TableMonthlyReports,
		[]domain.Filter{domain.Eq("id", reportID)},
		domain.Record{
			"total_purchases":         report.Purchases,
			"purchase_breakdown":      report.Suppliers,
			"invoice_count":           report.InvoiceCount,
			"supplier_count":          len(report.Suppliers),
			"cmv_percent":             report.CMVPercent,
			"cmv_target_percent":      report.CMVTarget,
			"cmv_status":              report.Status,
			"insights":                report.Insights,
			"month_over_month_change": report.MoMChange,
			"status":                  ReportStatusComplete,
			"generated_at":            c.now().UTC(),
		})
	if err != nil {
		return domain.MonthlyReport{}, fmt.Errorf("update monthly report: %w", err)
	}
	return report, nil
}

func reportInsights(report domain.MonthlyReport, cmv float64) []string {
	insights := []string{}
	if len(report.Suppliers) > 0 {
		top := report.Suppliers[0]
		share := 0.0
		if report.Purchases > 0 {
			share = top.Total / report.Purchases * 100
		}
		insights = append(insights, fmt.Sprintf("Maior fornecedor: %s (%.0f%% das compras, %s)", top.Name, share, FormatBRL(top.Total)))
	}
	switch report.Status {
	case domain.CMVStatusCritical:
		insights = append(insights, fmt.Sprintf("CMV em %s - muito acima da meta de %s%%. Revise precos do cardapio ou negocie com fornecedores.",
			FormatPercent(cmv), formatNumber(report.CMVTarget)))
	case domain.CMVStatusAboveTarget:
		insights = append(insights, fmt.Sprintf("CMV em %s - acima da meta de %s%%. Monitore os produtos com maior variacao de preco.",
			FormatPercent(cmv), formatNumber(report.CMVTarget)))
	}
	if report.MoMChange != nil && *report.MoMChange > 5 {
		insights = append(insights, fmt.Sprintf("Compras subiram %s%% em relacao ao mes anterior.", formatNumber(*report.MoMChange)))
	}
	return insights
}

// LoadReport reads a stored report without recomputing it.
func (c *Cashflow) LoadReport(ctx context.Context, restaurantID int64, reportID string) (domain.MonthlyReport, error) {
	row, err := c.store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(domain.Eq("id", reportID)))
	if err != nil {
		return domain.MonthlyReport{}, fmt.Errorf("fetch monthly report: %w", err)
	}
	if row == nil || (restaurantID != 0 && row.Int64("restaurant_id") != restaurantID) {
		return domain.MonthlyReport{}, domain.WrapError(domain.ErrNotFound, "load report", errors.New("report not found"))
	}
	return reportFromRecord(row), nil
}

func reportFromRecord(row domain.Record) domain.MonthlyReport {
	report := domain.MonthlyReport{
		ID:           row.String("id"),
		RestaurantID: row.Int64("restaurant_id"),
		Year:         row.Int("report_year"),
		Month:        row.Int("report_month"),
		Revenue:      row.Float("total_revenue"),
		Purchases:    row.Float("total_purchases"),
		CMVPercent:   row.Float("cmv_percent"),
		CMVTarget:    DefaultCMVTarget,
		Status:       row.String("cmv_status"),
		InvoiceCount: row.Int("invoice_count"),
		Insights:     row.StringSlice("insights"),
	}
	if target, ok := row.FloatOK("cmv_target_percent"); ok {
		report.CMVTarget = target
	}
	if change, ok := row.FloatOK("month_over_month_change"); ok {
		report.MoMChange = &change
	}
	if breakdown, ok := row["purchase_breakdown"].([]any); ok {
		for _, raw := range breakdown {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			rec := domain.Record(entry)
			report.Suppliers = append(report.Suppliers, domain.SupplierSpend{
				Name:    rec.String("name"),
				Total:   rec.Float("total"),
				Percent: rec.Float("percent"),
				Count:   rec.Int("invoice_count"),
			})
		}
	}
	return report
}
