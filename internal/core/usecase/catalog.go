package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	GroupOnboarding  = "onboarding"
	GroupInvoice     = "invoice"
	GroupMonthly     = "monthly"
	GroupCMV         = "cmv"
	GroupWatchlist   = "watchlist"
	GroupCatalog     = "catalog"
	GroupPreferences = "preferences"
)

// Toolbox holds the services the tool handlers delegate to.
type Toolbox struct {
	Store      ports.Store
	Identifier ports.UserIdentifier
	Engagement *EngagementService
	Cashflow   *Cashflow
	FoodCost   *FoodCostCalculator
	Trends     *PriceTrends
	Invoices   *InvoiceService
	Workbooks  ports.ReportWorkbookWriter
	Exports    ports.ObjectStorage
	Documents  ports.DocumentSender
	Now        func() time.Time
}

func (tb *Toolbox) now() time.Time {
	if tb.Now != nil {
		return tb.Now()
	}
	return time.Now()
}

// NewToolCatalog registers every tool group on a dispatcher.
func NewToolCatalog(tb *Toolbox, logger *slog.Logger, timeout time.Duration) *ToolDispatcher {
	d := NewToolDispatcher(logger, timeout)
	registerOnboardingTools(d, tb)
	registerInvoiceTools(d, tb)
	registerMonthlyTools(d, tb)
	registerCMVTools(d, tb)
	registerWatchlistTools(d, tb)
	registerCatalogTools(d, tb)
	registerPreferenceTools(d, tb)
	return d
}

var errNoRestaurant = domain.WrapError(domain.ErrUnauthorized, "resolve restaurant",
	errors.New("no restaurant linked to this conversation yet; finish onboarding first"))

// restaurantTool wraps handlers that only make sense for an identified restaurant.
func restaurantTool(handler func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error)) ToolHandler {
	return func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
		if session == nil || !session.HasRestaurant() {
			return nil, errNoRestaurant
		}
		return handler(ctx, args, session)
	}
}

// findProduct returns the first catalog product of the restaurant whose name
// contains term, or nil.
func findProduct(ctx context.Context, store ports.Store, restaurantID int64, term string) (domain.Record, error) {
	filters := []domain.Filter{domain.Contains("product_name", term)}
	if restaurantID != 0 {
		filters = append(filters, domain.Eq("restaurant_id", restaurantID))
	}
	return store.FetchOne(ctx, domain.TableMasterList, domain.Where(filters...))
}
