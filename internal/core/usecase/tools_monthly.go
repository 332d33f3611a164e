package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

var errNoActiveReport = domain.WrapError(domain.ErrInvalidInput, "resolve report",
	errors.New("no active monthly report; call start_monthly_closure first"))

func registerMonthlyTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupMonthly,
		defineTool("start_monthly_closure",
			"Start or resume the monthly financial closure process.",
			nil,
			integerParam("year", "Year for the report (default: current year)"),
			integerParam("month", "Month for the report (1-12, default: previous month during the first 10 days)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			year, month := DefaultClosurePeriod(tb.now())
			year = args.Int("year", year)
			month = args.Int("month", month)
			if month < 1 || month > 12 {
				return nil, domain.WrapError(domain.ErrInvalidInput, "start monthly closure", fmt.Errorf("month %d out of range", month))
			}

			report, existed, err := tb.Cashflow.StartClosure(ctx, session.RestaurantID, year, month)
			if err != nil {
				return nil, err
			}
			session.CurrentReportID = report.String("id")

			if existed {
				return map[string]any{
					"exists":          true,
					"report_id":       session.CurrentReportID,
					"status":          report.String("status"),
					"year":            year,
					"month":           month,
					"total_revenue":   report["total_revenue"],
					"total_purchases": report["total_purchases"],
					"cmv_percent":     report["cmv_percent"],
				}, nil
			}

			purchases, err := tb.Cashflow.Purchases(ctx, session.RestaurantID, year, month)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"exists":          false,
				"report_id":       session.CurrentReportID,
				"status":          ReportStatusAwaitingRevenue,
				"year":            year,
				"month":           month,
				"total_purchases": purchases.Total,
				"invoice_count":   purchases.InvoiceCount,
				"supplier_count":  len(purchases.Suppliers),
				"needs_revenue":   true,
			}, nil
		}))

	d.Register(GroupMonthly,
		defineTool("submit_revenue",
			"Submit the restaurant's total revenue for the month. This is required to generate the financial report.",
			[]string{"total_revenue"},
			numberParam("total_revenue", "Total revenue in BRL (e.g., 120000.00)"),
			stringParam("revenue_source", "How the revenue was provided", "manual_single", "manual_detailed", "pos_integration"),
			objectParam("revenue_breakdown", "Optional detailed breakdown by plate/category"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			if session.CurrentReportID == "" {
				return nil, errNoActiveReport
			}
			revenue, err := args.RequireFloat("total_revenue")
			if err != nil {
				return nil, err
			}
			if revenue <= 0 {
				return nil, domain.WrapError(domain.ErrInvalidInput, "submit revenue", errors.New("revenue must be positive"))
			}
			source := args.String("revenue_source")
			if source == "" {
				source = "manual_single"
			}
			patch := domain.Record{"total_revenue": revenue, "revenue_source": source}
			if breakdown := args.Raw("revenue_breakdown"); breakdown != nil {
				patch["revenue_breakdown"] = breakdown
			}
			updated, err := tb.Store.Update(ctx, domain.TableMonthlyReports, []domain.Filter{
				domain.Eq("id", session.CurrentReportID),
				domain.Eq("restaurant_id", session.RestaurantID),
			}, patch)
			if err != nil {
				return nil, fmt.Errorf("submit revenue: %w", err)
			}
			if updated == nil {
				return nil, domain.WrapError(domain.ErrNotFound, "submit revenue", errors.New("report not found"))
			}
			return map[string]any{"success": true, "report_id": session.CurrentReportID, "total_revenue": revenue}, nil
		}))

	d.Register(GroupMonthly,
		defineTool("generate_monthly_report",
			"Generate the full monthly financial report with insights and recommendations.",
			nil),
		restaurantTool(func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			if session.CurrentReportID == "" {
				return nil, errNoActiveReport
			}
			report, err := tb.Cashflow.GenerateReport(ctx, session.RestaurantID, session.CurrentReportID)
			if err != nil {
				return nil, err
			}
			top := report.Suppliers
			if len(top) > 5 {
				top = top[:5]
			}
			return map[string]any{
				"report_id":      report.ID,
				"period":         report.Period(),
				"revenue":        report.Revenue,
				"purchases":      report.Purchases,
				"cmv_percent":    report.CMVPercent,
				"cmv_target":     report.CMVTarget,
				"cmv_status":     report.Status,
				"invoice_count":  report.InvoiceCount,
				"supplier_count": len(report.Suppliers),
				"top_suppliers":  top,
				"categories":     report.Categories,
				"mom_change":     report.MoMChange,
				"insights":       report.Insights,
			}, nil
		}))

	d.Register(GroupMonthly,
		defineTool("get_report_history",
			"Get historical monthly reports for trend comparison.",
			nil,
			integerParam("months", "Number of months to look back (default: 6)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			rows, err := tb.Store.FetchMany(ctx, domain.TableMonthlyReports,
				domain.Where(domain.Eq("restaurant_id", session.RestaurantID)).
					OrderBy("report_year", true).
					OrderBy("report_month", true).
					WithLimit(args.Int("months", 6)))
			if err != nil {
				return nil, fmt.Errorf("fetch report history: %w", err)
			}
			reports := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				reports = append(reports, map[string]any{
					"report_month":    row.Int("report_month"),
					"report_year":     row.Int("report_year"),
					"total_revenue":   row["total_revenue"],
					"total_purchases": row["total_purchases"],
					"cmv_percent":     row["cmv_percent"],
					"status":          row.String("status"),
				})
			}
			return map[string]any{"reports": reports, "count": len(reports)}, nil
		}))

	d.Register(GroupMonthly,
		defineTool("export_monthly_report",
			"Export the active monthly report as an Excel spreadsheet and send it to the chat.",
			nil,
			integerParam("year", "Report year (default: active report)"),
			integerParam("month", "Report month (default: active report)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			if tb.Workbooks == nil {
				return nil, errors.New("report export is not configured")
			}
			reportID := session.CurrentReportID
			if _, hasMonth := args.FloatOK("month"); hasMonth {
				year := args.Int("year", tb.now().Year())
				row, err := tb.Store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(
					domain.Eq("restaurant_id", session.RestaurantID),
					domain.Eq("report_year", year),
					domain.Eq("report_month", args.Int("month", 0)),
				))
				if err != nil {
					return nil, fmt.Errorf("fetch report: %w", err)
				}
				if row == nil {
					return nil, domain.WrapError(domain.ErrNotFound, "export report", errors.New("report not found"))
				}
				reportID = row.String("id")
			}
			if reportID == "" {
				return nil, errNoActiveReport
			}

			report, err := tb.Cashflow.GenerateReport(ctx, session.RestaurantID, reportID)
			if err != nil {
				return nil, err
			}
			report.RestaurantName = session.RestaurantName

			var buf bytes.Buffer
			if err := tb.Workbooks.WriteMonthlyReport(&buf, report); err != nil {
				return nil, fmt.Errorf("render workbook: %w", err)
			}
			filename := fmt.Sprintf("relatorio-%d-%02d.xlsx", report.Year, report.Month)
			content := buf.Bytes()

			result := map[string]any{"success": true, "report_id": report.ID, "filename": filename, "size_bytes": len(content)}
			if tb.Exports != nil {
				key := path.Join("reports", fmt.Sprint(session.RestaurantID), filename)
				if err := tb.Exports.Save(ctx, key, bytes.NewReader(content)); err != nil {
					return nil, fmt.Errorf("store workbook: %w", err)
				}
				result["path"] = key
			}
			if tb.Documents != nil && session.ChatID != 0 {
				caption := fmt.Sprintf("📊 Relatório de %s/%d", MonthName(report.Month), report.Year)
				if err := tb.Documents.SendDocument(ctx, session.ChatID, filename, bytes.NewReader(content), caption); err != nil {
					return nil, fmt.Errorf("send workbook: %w", err)
				}
				result["sent"] = true
			}
			return result, nil
		}))
}
