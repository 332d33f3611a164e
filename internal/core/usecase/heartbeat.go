package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

// Heartbeat job names.
const (
	JobPriceWatchlist  = "price_watchlist_check"
	JobMonthlyReminder = "monthly_closure_reminder"
	JobRevenueRequest  = "revenue_request"
	JobCMVAlert        = "cmv_alert"
	JobPendingInvoices = "pending_invoices_check"
)

const (
	businessHourOpen    = 7
	businessHourClose   = 22
	pendingInvoiceGrace = 30 * time.Minute
)

// HeartbeatService runs the proactive checks and notifies restaurants
// through the chat transport.
type HeartbeatService struct {
	store    ports.Store
	trends   *PriceTrends
	notifier ports.Notifier
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewHeartbeatService(store ports.Store, trends *PriceTrends, notifier ports.Notifier, loc *time.Location, logger *slog.Logger) *HeartbeatService {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HeartbeatService{
		store:    store,
		trends:   trends,
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// HeartbeatSchedule maps each job to its cron spec, evaluated in the
// heartbeat timezone.
func HeartbeatSchedule() map[string]string {
	return map[string]string{
		JobPriceWatchlist:  "0 7-22 * * *",
		JobMonthlyReminder: "0 9 25-31 * *",
		JobRevenueRequest:  "0 9 1-5 * *",
		JobCMVAlert:        "0 10 * * *",
		JobPendingInvoices: "0 */2 * * *",
	}
}

// Run executes one job by name.
func (h *HeartbeatService) Run(ctx context.Context, job string) error {
	switch job {
	case JobPriceWatchlist:
		return h.CheckPriceWatchlist(ctx)
	case JobMonthlyReminder:
		return h.MonthlyClosureReminder(ctx)
	case JobRevenueRequest:
		return h.RevenueRequest(ctx)
	case JobCMVAlert:
		return h.CMVAlert(ctx)
	case JobPendingInvoices:
		return h.PendingInvoices(ctx)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "heartbeat run", fmt.Errorf("unknown job %q", job))
	}
}

func (h *HeartbeatService) localNow() time.Time {
	return h.now().In(h.loc)
}

// CheckPriceWatchlist runs the watchlist check for every restaurant with an
// active entry. Outside business hours it does nothing.
func (h *HeartbeatService) CheckPriceWatchlist(ctx context.Context) error {
	hour := h.localNow().Hour()
	if hour < businessHourOpen || hour > businessHourClose {
		return nil
	}
	entries, err := h.store.FetchMany(ctx, domain.TableWatchlist, domain.Where(domain.Eq("is_active", true)))
	if err != nil {
		return fmt.Errorf("fetch watchlist: %w", err)
	}

	seen := make(map[int64]struct{})
	restaurants := make([]int64, 0)
	for _, entry := range entries {
		rid := entry.Int64("restaurant_id")
		if _, ok := seen[rid]; ok || rid == 0 {
			continue
		}
		seen[rid] = struct{}{}
		restaurants = append(restaurants, rid)
	}
	sort.Slice(restaurants, func(i, j int) bool { return restaurants[i] < restaurants[j] })

	var errs []error
	for _, rid := range restaurants {
		alerts, err := h.trends.CheckWatchlist(ctx, rid)
		if err != nil {
			errs = append(errs, fmt.Errorf("restaurant %d: %w", rid, err))
			continue
		}
		if len(alerts) == 0 {
			continue
		}
		chatID, err := h.chatForRestaurant(ctx, rid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if chatID == 0 {
			continue
		}
		for _, alert := range alerts {
			if err := h.send(ctx, chatID, FormatPriceAlert(alert)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MonthlyClosureReminder reminds onboarded restaurants without a report for
// the current month.
func (h *HeartbeatService) MonthlyClosureReminder(ctx context.Context) error {
	now := h.localNow()
	year, month := now.Year(), int(now.Month())
	return h.forEachOnboarded(ctx, func(rid, chatID int64) error {
		report, err := h.reportFor(ctx, rid, year, month)
		if err != nil {
			return err
		}
		if report != nil {
			return nil
		}
		return h.send(ctx, chatID, "📅 **Lembrete de Fechamento Mensal**\n\n"+
			"Faltam poucos dias para fechar o mês! "+
			"Envie suas notas fiscais pendentes e vamos fazer o fechamento.\n\n"+
			"Digite 2️⃣ para começar o fechamento mensal.")
	})
}

// RevenueRequest asks for last month's revenue when it was never submitted.
func (h *HeartbeatService) RevenueRequest(ctx context.Context) error {
	now := h.localNow()
	year, month := PreviousMonth(now.Year(), int(now.Month()))
	name := MonthName(month)
	return h.forEachOnboarded(ctx, func(rid, chatID int64) error {
		report, err := h.reportFor(ctx, rid, year, month)
		if err != nil {
			return err
		}
		if report != nil && report.Float("total_revenue") > 0 {
			return nil
		}
		return h.send(ctx, chatID, fmt.Sprintf("📊 **Faturamento de %s**\n\n"+
			"Para completar seu relatório de %s, preciso do faturamento total do mês.\n\n"+
			"Qual foi o faturamento total em %s?", name, name, name))
	})
}

// CMVAlert warns restaurants whose latest complete report is above the
// critical CMV.
func (h *HeartbeatService) CMVAlert(ctx context.Context) error {
	reports, err := h.store.FetchMany(ctx, domain.TableMonthlyReports, domain.Where(
		domain.Eq("status", ReportStatusComplete),
	).OrderBy("report_year", true).OrderBy("report_month", true))
	if err != nil {
		return fmt.Errorf("fetch monthly reports: %w", err)
	}

	latest := make(map[int64]domain.Record)
	order := make([]int64, 0)
	for _, report := range reports {
		rid := report.Int64("restaurant_id")
		if _, ok := latest[rid]; ok {
			continue
		}
		latest[rid] = report
		order = append(order, rid)
	}

	var errs []error
	for _, rid := range order {
		report := reportFromRecord(latest[rid])
		if report.CMVPercent <= criticalCMVPercent {
			continue
		}
		chatID, err := h.chatForRestaurant(ctx, rid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if chatID == 0 {
			continue
		}
		msg := fmt.Sprintf("⚠️ **Alerta de CMV**\n\n"+
			"Seu CMV de %s está em %s, acima da meta de %s.\n\n"+
			"Digite 3️⃣ para ver a análise detalhada do cardápio.",
			report.Period(), FormatPercent(report.CMVPercent), FormatPercent(report.CMVTarget))
		if err := h.send(ctx, chatID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PendingInvoices reminds restaurants about invoices that were uploaded but
// never parsed.
func (h *HeartbeatService) PendingInvoices(ctx context.Context) error {
	cutoff := h.now().Add(-pendingInvoiceGrace).UTC()
	invoices, err := h.store.FetchMany(ctx, domain.TableInvoices, domain.Where(
		domain.Eq("status", invoiceStatusUploaded),
		domain.Lt("created_at", cutoff),
	))
	if err != nil {
		return fmt.Errorf("fetch pending invoices: %w", err)
	}

	counts := make(map[int64]int)
	order := make([]int64, 0)
	for _, invoice := range invoices {
		rid := invoice.Int64("restaurant_id")
		if rid == 0 {
			continue
		}
		if counts[rid] == 0 {
			order = append(order, rid)
		}
		counts[rid]++
	}

	var errs []error
	for _, rid := range order {
		chatID, err := h.chatForRestaurant(ctx, rid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if chatID == 0 {
			continue
		}
		msg := fmt.Sprintf("📄 **Notas Fiscais Pendentes**\n\n"+
			"Você tem %d nota(s) fiscal(is) aguardando processamento. "+
			"Envie as fotos novamente e digite 1️⃣ para eu concluir a leitura.", counts[rid])
		if err := h.send(ctx, chatID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *HeartbeatService) forEachOnboarded(ctx context.Context, fn func(restaurantID, chatID int64) error) error {
	rows, err := h.store.FetchMany(ctx, domain.TableFinanceOnboarding, domain.Where(
		domain.Eq("status", onboardingStatusCompleted),
	))
	if err != nil {
		return fmt.Errorf("fetch onboarded restaurants: %w", err)
	}
	var errs []error
	for _, row := range rows {
		rid := row.Int64("restaurant_id")
		chatID := row.Int64("telegram_chat_id")
		if rid == 0 || chatID == 0 {
			continue
		}
		if err := fn(rid, chatID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *HeartbeatService) reportFor(ctx context.Context, restaurantID int64, year, month int) (domain.Record, error) {
	report, err := h.store.FetchOne(ctx, domain.TableMonthlyReports, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Eq("report_year", year),
		domain.Eq("report_month", month),
	))
	if err != nil {
		return nil, fmt.Errorf("fetch report %d/%d of restaurant %d: %w", month, year, restaurantID, err)
	}
	return report, nil
}

func (h *HeartbeatService) chatForRestaurant(ctx context.Context, restaurantID int64) (int64, error) {
	row, err := h.store.FetchOne(ctx, domain.TableFinanceOnboarding, domain.Where(
		domain.Eq("restaurant_id", restaurantID),
		domain.Eq("status", onboardingStatusCompleted),
	).WithLimit(1))
	if err != nil {
		return 0, fmt.Errorf("fetch chat of restaurant %d: %w", restaurantID, err)
	}
	if row == nil {
		return 0, nil
	}
	return row.Int64("telegram_chat_id"), nil
}

func (h *HeartbeatService) send(ctx context.Context, chatID int64, text string) error {
	if h.notifier == nil {
		h.logger.Warn("heartbeat_notifier_missing", "chat_id", chatID)
		return nil
	}
	if err := h.notifier.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("notify chat %d: %w", chatID, err)
	}
	return nil
}
