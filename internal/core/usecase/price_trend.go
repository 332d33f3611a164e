package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	SignificantChangePercent = 10.0

	AlertAnyChange        = "any_change"
	AlertPriceDrop        = "price_drop"
	AlertPriceIncrease    = "price_increase"
	AlertThreshold        = "threshold"
	AlertCompetitorBetter = "competitor_better"

	defaultAlertCooldown    = 24 * time.Hour
	defaultAlertThreshold   = 10.0
	recentInvoiceWindow     = 200
	productHistoryLimit     = 50
	DefaultPriceFreshness   = 30 * 24 * time.Hour
	unknownWatchlistProduct = "Unknown"
)

// PriceTrends compares purchase prices over time and evaluates watchlists.
type PriceTrends struct {
	store     ports.Store
	freshness time.Duration
	now       func() time.Time
}

func NewPriceTrends(store ports.Store, freshness time.Duration) *PriceTrends {
	if freshness <= 0 {
		freshness = DefaultPriceFreshness
	}
	return &PriceTrends{store: store, freshness: freshness, now: time.Now}
}

func trendDirection(change float64) string {
	switch {
	case change > 0:
		return domain.TrendUp
	case change < 0:
		return domain.TrendDown
	default:
		return domain.TrendStable
	}
}

// InvoiceTrends compares every line of an invoice with the latest earlier
// purchase of the same product by the same restaurant, stores the trend on
// the line and returns the significant changes.
func (p *PriceTrends) InvoiceTrends(ctx context.Context, restaurantID int64, invoiceID string) ([]domain.PriceTrend, error) {
	invoice, err := p.store.FetchOne(ctx, domain.TableInvoices, domain.Where(domain.Eq("id", invoiceID)))
	if err != nil {
		return nil, fmt.Errorf("fetch invoice: %w", err)
	}
	if invoice == nil {
		return nil, nil
	}
	if restaurantID == 0 {
		restaurantID = invoice.Int64("restaurant_id")
	}

	items, err := p.store.FetchMany(ctx, domain.TableInvoiceLineItems, domain.Where(domain.Eq("invoice_id", invoiceID)))
	if err != nil {
		return nil, fmt.Errorf("fetch invoice lines: %w", err)
	}

	earlier, err := p.store.FetchMany(ctx, domain.TableInvoices,
		domain.Where(domain.Eq("restaurant_id", restaurantID), domain.Neq("id", invoiceID)).
			OrderBy("created_at", true).
			WithLimit(recentInvoiceWindow))
	if err != nil {
		return nil, fmt.Errorf("fetch earlier invoices: %w", err)
	}
	earlierIDs := make([]any, 0, len(earlier))
	for _, inv := range earlier {
		earlierIDs = append(earlierIDs, inv["id"])
	}

	var significant []domain.PriceTrend
	for _, item := range items {
		name := item.String("product_name_raw")
		current := item.Float("unit_price")
		if name == "" || current == 0 {
			continue
		}

		var prev domain.Record
		if len(earlierIDs) > 0 {
			prev, err = p.store.FetchOne(ctx, domain.TableInvoiceLineItems,
				domain.Where(domain.Eq("product_name_raw", name), domain.In("invoice_id", earlierIDs...)).
					OrderBy("created_at", true))
			if err != nil {
				return nil, fmt.Errorf("fetch previous price: %w", err)
			}
		}

		if prev == nil {
			if _, err := p.store.Update(ctx, domain.TableInvoiceLineItems,
				[]domain.Filter{domain.Eq("id", item["id"])},
				domain.Record{"price_trend": domain.TrendNew}); err != nil {
				return nil, fmt.Errorf("update line trend: %w", err)
			}
			continue
		}

		previous := prev.Float("unit_price")
		if previous <= 0 {
			continue
		}
		change := changePercent(current, previous)
		isSignificant := math.Abs(change) >= SignificantChangePercent
		_, err = p.store.Update(ctx, domain.TableInvoiceLineItems,
			[]domain.Filter{domain.Eq("id", item["id"])},
			domain.Record{
				"previous_price":        previous,
				"price_change_percent":  round(change, 2),
				"price_trend":           trendDirection(change),
				"is_significant_change": isSignificant,
			})
		if err != nil {
			return nil, fmt.Errorf("update line trend: %w", err)
		}

		if isSignificant {
			rounded := round(change, 2)
			significant = append(significant, domain.PriceTrend{
				ProductName:   name,
				CurrentPrice:  current,
				PreviousPrice: &previous,
				ChangePercent: &rounded,
				Trend:         trendDirection(change),
				Significant:   true,
			})
		}
	}
	return significant, nil
}

// PricePoint is one purchase of a product.
type PricePoint struct {
	Date     string  `json:"date"`
	Supplier string  `json:"supplier"`
	Price    float64 `json:"price"`
	Unit     string  `json:"unit"`
}

type ProductTrend struct {
	Product       string       `json:"product"`
	History       []PricePoint `json:"history"`
	DataPoints    int          `json:"data_points"`
	OverallChange float64      `json:"overall_change_percent"`
}

// ProductTrend lists the restaurant's purchases of a product, newest first,
// within the last months.
func (p *PriceTrends) ProductTrend(ctx context.Context, restaurantID int64, product string, months int) (ProductTrend, error) {
	if months <= 0 {
		months = 6
	}
	since := p.now().AddDate(0, -months, 0).Format(time.DateOnly)
	invoices, err := p.store.FetchMany(ctx, domain.TableInvoices, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Gte("invoice_date", since),
	))
	if err != nil {
		return ProductTrend{}, fmt.Errorf("fetch invoices: %w", err)
	}

	out := ProductTrend{Product: product, History: []PricePoint{}}
	if len(invoices) == 0 {
		return out, nil
	}
	byID := make(map[string]domain.Record, len(invoices))
	ids := make([]any, 0, len(invoices))
	for _, inv := range invoices {
		byID[inv.String("id")] = inv
		ids = append(ids, inv["id"])
	}

	items, err := p.store.FetchMany(ctx, domain.TableInvoiceLineItems,
		domain.Where(domain.Contains("product_name_raw", product), domain.In("invoice_id", ids...)).
			OrderBy("created_at", true).
			WithLimit(productHistoryLimit))
	if err != nil {
		return ProductTrend{}, fmt.Errorf("fetch product lines: %w", err)
	}
	for _, item := range items {
		inv := byID[item.String("invoice_id")]
		out.History = append(out.History, PricePoint{
			Date:     inv.String("invoice_date"),
			Supplier: inv.String("supplier_name_extracted"),
			Price:    item.Float("unit_price"),
			Unit:     item.String("unit"),
		})
	}
	out.DataPoints = len(out.History)
	if out.DataPoints >= 2 {
		latest := out.History[0].Price
		oldest := out.History[out.DataPoints-1].Price
		out.OverallChange = round(changePercent(latest, oldest), 2)
	}
	return out, nil
}

// LatestPrice returns the freshest known unit price of a catalog product:
// procurement pricing history first, then invoice lines.
func (p *PriceTrends) LatestPrice(ctx context.Context, masterListID int64) (float64, bool, error) {
	since := p.now().Add(-p.freshness).Format(time.DateOnly)
	row, err := p.store.FetchOne(ctx, domain.TablePricingHistory,
		domain.Where(domain.Eq("master_list_id", masterListID), domain.Gte("effective_date", since)).
			OrderBy("effective_date", true))
	if err != nil {
		return 0, false, fmt.Errorf("fetch pricing history: %w", err)
	}
	if row != nil && row.Float("unit_price") != 0 {
		return row.Float("unit_price"), true, nil
	}

	row, err = p.store.FetchOne(ctx, domain.TableInvoiceLineItems,
		domain.Where(domain.Eq("master_list_id", masterListID)).OrderBy("created_at", true))
	if err != nil {
		return 0, false, fmt.Errorf("fetch invoice price: %w", err)
	}
	if row != nil && row.Float("unit_price") != 0 {
		return row.Float("unit_price"), true, nil
	}
	return 0, false, nil
}

func shouldAlert(entry domain.Record, newPrice, change float64) bool {
	threshold := defaultAlertThreshold
	if v, ok := entry.FloatOK("threshold_percent"); ok {
		threshold = v
	}
	switch entry.String("alert_type") {
	case "", AlertAnyChange:
		return math.Abs(change) >= threshold
	case AlertPriceDrop:
		return change <= -threshold
	case AlertPriceIncrease:
		return change >= threshold
	case AlertThreshold:
		target, ok := entry.FloatOK("target_price")
		return ok && target > 0 && newPrice >= target
	case AlertCompetitorBetter:
		competitor, ok := entry.FloatOK("best_competitor_price")
		return ok && competitor > 0 && changePercent(newPrice, competitor) >= threshold
	default:
		return false
	}
}

// CheckWatchlist evaluates every active watchlist entry of a restaurant,
// refreshes the stored price and returns the triggered alerts. Entries
// inside their cooldown window are skipped.
func (p *PriceTrends) CheckWatchlist(ctx context.Context, restaurantID int64) ([]domain.PriceAlert, error) {
	entries, err := p.store.FetchMany(ctx, domain.TableWatchlist, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Eq("is_active", true),
	))
	if err != nil {
		return nil, fmt.Errorf("fetch watchlist: %w", err)
	}

	now := p.now().UTC()
	alerts := []domain.PriceAlert{}
	for _, entry := range entries {
		cooldown := defaultAlertCooldown
		if hours, ok := entry.FloatOK("alert_cooldown_hours"); ok {
			cooldown = time.Duration(hours * float64(time.Hour))
		}
		if last, ok := entry.Time("last_alert_sent_at"); ok && now.Sub(last) < cooldown {
			continue
		}

		filter := []domain.Filter{domain.Eq("id", entry["id"])}
		newPrice, found, err := p.LatestPrice(ctx, entry.Int64("master_list_id"))
		if err != nil {
			return nil, err
		}
		stored, hasStored := entry.FloatOK("current_price")
		if !found || !hasStored {
			patch := domain.Record{"last_checked_at": now}
			if found {
				patch["current_price"] = newPrice
			}
			if _, err := p.store.Update(ctx, domain.TableWatchlist, filter, patch); err != nil {
				return nil, fmt.Errorf("update watchlist entry: %w", err)
			}
			continue
		}
		if stored == 0 {
			continue
		}

		change := changePercent(newPrice, stored)
		patch := domain.Record{"current_price": newPrice, "last_checked_at": now}
		if shouldAlert(entry, newPrice, change) {
			name := unknownWatchlistProduct
			product, err := p.store.FetchOne(ctx, domain.TableMasterList, domain.Where(domain.Eq("id", entry.Int64("master_list_id"))))
			if err != nil {
				return nil, fmt.Errorf("fetch watched product: %w", err)
			}
			if product != nil && product.String("product_name") != "" {
				name = product.String("product_name")
			}
			alertType := entry.String("alert_type")
			if alertType == "" {
				alertType = AlertAnyChange
			}
			direction := domain.TrendDown
			if change > 0 {
				direction = domain.TrendUp
			}
			alerts = append(alerts, domain.PriceAlert{
				WatchlistID:   entry.String("id"),
				ProductName:   name,
				AlertType:     alertType,
				OldPrice:      stored,
				NewPrice:      newPrice,
				ChangePercent: round(change, 2),
				Direction:     direction,
			})
			patch["last_alert_sent_at"] = now
		}
		if _, err := p.store.Update(ctx, domain.TableWatchlist, filter, patch); err != nil {
			return nil, fmt.Errorf("update watchlist entry: %w", err)
		}
	}
	return alerts, nil
}

// FormatPriceAlert renders an alert as a chat notification.
func FormatPriceAlert(alert domain.PriceAlert) string {
	emoji, verb := "📉", "caiu"
	if alert.Direction == domain.TrendUp {
		emoji, verb = "📈", "subiu"
	}
	return fmt.Sprintf("🔔 **Alerta de Preço**\n\n%s: %s %s %s\nDe %s → %s",
		alert.ProductName, emoji, verb, FormatPercent(math.Abs(alert.ChangePercent)),
		FormatBRL(alert.OldPrice), FormatBRL(alert.NewPrice))
}
