package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const DefaultCMVTarget = 32.0

// ContextLoader reads the optional prompt layers from the store.
type ContextLoader struct {
	store ports.Store
	drip  *DripService
}

func NewContextLoader(store ports.Store, drip *DripService) *ContextLoader {
	return &ContextLoader{store: store, drip: drip}
}

// UserMemory aggregates onboarding, restaurant and latest report data.
// It returns nil when nothing is known about the restaurant.
func (l *ContextLoader) UserMemory(ctx context.Context, restaurantID int64) (*domain.UserMemory, error) {
	memory := &domain.UserMemory{}

	onboarding, err := l.store.FetchOne(ctx, domain.TableFinanceOnboarding,
		domain.Where(
			domain.Eq("restaurant_id", restaurantID),
			domain.Eq("status", onboardingStatusCompleted),
		).OrderBy("completed_at", true))
	if err != nil {
		return nil, fmt.Errorf("fetch onboarding: %w", err)
	}
	if onboarding != nil {
		memory.RestaurantName = onboarding.String("restaurant_name")
		memory.PersonName = onboarding.String("person_name")
		memory.City = onboarding.String("city")
		memory.State = onboarding.String("state")
		memory.SavingsOpportunity = onboarding.String("savings_opportunity")
		if onboarding.Has("is_owner") && onboarding["is_owner"] != nil {
			owner := onboarding.Bool("is_owner")
			memory.IsOwner = &owner
		}
	}

	restaurant, err := l.store.FetchOne(ctx, domain.TableRestaurants, domain.Where(domain.Eq("id", restaurantID)))
	if err != nil {
		return nil, fmt.Errorf("fetch restaurant: %w", err)
	}
	if restaurant != nil {
		if memory.RestaurantName == "" {
			memory.RestaurantName = restaurant.String("restaurant_name")
		}
		memory.PriceSensitivity = restaurant.String("price_sensitivity")
	}

	report, err := l.latestReport(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if report != nil {
		memory.CMVTarget = DefaultCMVTarget
		if target, ok := report.FloatOK("cmv_target_percent"); ok {
			memory.CMVTarget = target
		}
		if cmv, ok := report.FloatOK("cmv_percent"); ok {
			memory.LastCMV = &cmv
		}
		memory.LastReportPeriod = fmt.Sprintf("%d/%d", report.Int("report_month"), report.Int("report_year"))
	}

	if memory.IsEmpty() {
		return nil, nil
	}
	return memory, nil
}

func (l *ContextLoader) latestReport(ctx context.Context, restaurantID int64) (domain.Record, error) {
	report, err := l.store.FetchOne(ctx, domain.TableMonthlyReports,
		domain.Where(domain.Eq("restaurant_id", restaurantID)).
			OrderBy("report_year", true).
			OrderBy("report_month", true))
	if err != nil {
		return nil, fmt.Errorf("fetch latest report: %w", err)
	}
	return report, nil
}

// RecentContext builds the free-text recent data block for an intent.
func (l *ContextLoader) RecentContext(ctx context.Context, restaurantID int64, intent domain.Intent) (string, error) {
	var lines []string
	general := intent == domain.IntentGeneral

	if general || intent == domain.IntentInvoiceUpload {
		invoices, err := l.store.FetchMany(ctx, domain.TableInvoices,
			domain.Where(domain.Eq("restaurant_id", restaurantID)).
				OrderBy("invoice_date", true).
				WithLimit(5))
		if err != nil {
			return "", fmt.Errorf("fetch recent invoices: %w", err)
		}
		if len(invoices) > 0 {
			lines = append(lines, "Ultimas NFs processadas:")
			for _, inv := range invoices {
				lines = append(lines, fmt.Sprintf("- %s: %s - %s",
					inv.String("invoice_date"), inv.String("supplier_name_extracted"), FormatBRL(inv.Float("total_amount"))))
			}
		}
	}

	if general || intent == domain.IntentWatchlist {
		watched, err := l.store.FetchMany(ctx, domain.TableWatchlist, domain.Where(
			domain.Eq("restaurant_id", restaurantID),
			domain.Eq("is_active", true),
		))
		if err != nil {
			return "", fmt.Errorf("fetch watchlist: %w", err)
		}
		if len(watched) > 0 {
			lines = append(lines, fmt.Sprintf("\nProdutos monitorados: %d", len(watched)))
		}
	}

	if general || intent == domain.IntentMonthlyClosure {
		report, err := l.latestReport(ctx, restaurantID)
		if err != nil {
			return "", err
		}
		if report != nil {
			cmv := "N/A"
			if v, ok := report.FloatOK("cmv_percent"); ok {
				cmv = formatNumber(v)
			}
			lines = append(lines, fmt.Sprintf("\nUltimo relatorio: %d/%d - CMV: %s%% (%s)",
				report.Int("report_month"), report.Int("report_year"), cmv, report.String("status")))
		}
	}

	return strings.Join(lines, "\n"), nil
}

// DripContext returns the drip layer, skipped for onboarding turns.
func (l *ContextLoader) DripContext(ctx context.Context, restaurantID int64, intent domain.Intent) (string, error) {
	if intent == domain.IntentOnboarding || l.drip == nil {
		return "", nil
	}
	return l.drip.Context(ctx, restaurantID)
}
