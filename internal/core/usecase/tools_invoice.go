package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func savedInvoiceResult(inv SavedInvoice) map[string]any {
	trends := inv.Trends
	if trends == nil {
		trends = []domain.PriceTrend{}
	}
	return map[string]any{
		"invoice_id":   inv.ID,
		"supplier":     inv.Parsed.SupplierName,
		"cnpj":         inv.Parsed.SupplierCNPJ,
		"date":         inv.Parsed.InvoiceDate,
		"items_count":  len(inv.Parsed.Items),
		"total":        inv.Parsed.Total(),
		"items":        inv.Parsed.Items,
		"confidence":   inv.Parsed.Confidence,
		"price_trends": trends,
	}
}

func registerInvoiceTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupInvoice,
		defineTool("parse_invoice_photo",
			"Parse a single invoice photo or PDF. Extracts supplier, CNPJ, products, quantities, and prices, and stores the invoice.",
			[]string{"image_url"},
			stringParam("image_url", "URL of the invoice photo or PDF from Telegram"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			url, err := args.RequireString("image_url")
			if err != nil {
				return nil, err
			}
			inv, err := tb.Invoices.ParseAndSave(ctx, session, url)
			if err != nil {
				return nil, err
			}
			session.CurrentInvoiceID = inv.ID
			result := savedInvoiceResult(inv)
			result["success"] = true
			return result, nil
		}))

	d.Register(GroupInvoice,
		defineTool("parse_multiple_invoices",
			"Parse multiple invoice photos at once. Use when user has uploaded several photos and said 'pronto'.",
			[]string{"image_urls"},
			stringListParam("image_urls", "List of invoice photo URLs"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			urls := args.Strings("image_urls")
			if len(urls) == 0 {
				return nil, domain.WrapError(domain.ErrInvalidInput, "parse invoices", fmt.Errorf("image_urls is required"))
			}
			saved, failures := tb.Invoices.ParseAndSaveBatch(ctx, session, urls)
			invoices := make([]map[string]any, 0, len(saved))
			for _, inv := range saved {
				invoices = append(invoices, savedInvoiceResult(inv))
			}
			if len(saved) > 0 {
				session.CurrentInvoiceID = saved[len(saved)-1].ID
			}
			return map[string]any{
				"success":      true,
				"parsed_count": len(saved),
				"total_sent":   len(urls),
				"invoices":     invoices,
				"failed":       failures,
			}, nil
		}))

	d.Register(GroupInvoice,
		defineTool("confirm_invoice",
			"Confirm that a parsed invoice's data is correct and should be saved permanently.",
			[]string{"invoice_id"},
			stringParam("invoice_id", "UUID of the invoice to confirm"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			id, err := args.RequireString("invoice_id")
			if err != nil {
				return nil, err
			}
			if err := tb.Invoices.Confirm(ctx, session.RestaurantID, id); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "invoice_id": id, "status": invoiceStatusConfirmed}, nil
		}))

	d.Register(GroupInvoice,
		defineTool("get_invoice_summary",
			"Get a summary of invoices for a restaurant over a time period.",
			nil,
			integerParam("months", "Number of months to look back (default: 3)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			months := args.Int("months", 3)
			since := tb.now().AddDate(0, -months, 0).Format("2006-01-02")
			invoices, err := tb.Store.FetchMany(ctx, domain.TableInvoices,
				domain.Where(
					domain.Eq("restaurant_id", session.RestaurantID),
					domain.Gte("invoice_date", since),
				).OrderBy("invoice_date", true))
			if err != nil {
				return nil, fmt.Errorf("fetch invoices: %w", err)
			}
			total := 0.0
			recent := make([]map[string]any, 0, 20)
			for i, inv := range invoices {
				total += inv.Float("total_amount")
				if i < 20 {
					recent = append(recent, map[string]any{
						"id":           inv["id"],
						"supplier":     inv.String("supplier_name_extracted"),
						"invoice_date": inv.String("invoice_date"),
						"total_amount": inv.Float("total_amount"),
						"status":       inv.String("status"),
					})
				}
			}
			return map[string]any{
				"invoice_count": len(invoices),
				"total_amount":  round(total, 2),
				"months":        months,
				"invoices":      recent,
			}, nil
		}))

	d.Register(GroupInvoice,
		defineTool("get_price_trend",
			"Get the price history and trend for a specific product across invoices.",
			[]string{"product_name"},
			stringParam("product_name", "Name of the product to check"),
			integerParam("months", "Number of months to look back (default: 6)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			product, err := args.RequireString("product_name")
			if err != nil {
				return nil, err
			}
			return tb.Trends.ProductTrend(ctx, session.RestaurantID, product, args.Int("months", 6))
		}))
}
