package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

type sentMessage struct {
	chatID int64
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) SendText(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func newTestHeartbeat(store *memStore, notifier *recordingNotifier, now time.Time) *HeartbeatService {
	trends := NewPriceTrends(store, 0)
	trends.now = func() time.Time { return now }
	h := NewHeartbeatService(store, trends, notifier, time.UTC, discardLogger())
	h.now = func() time.Time { return now }
	return h
}

func seedOnboarded(store *memStore, restaurantID, chatID int64) {
	store.seed(domain.TableFinanceOnboarding, domain.Record{
		"id":               fmt.Sprintf("ob-%d", restaurantID),
		"restaurant_id":    restaurantID,
		"telegram_chat_id": chatID,
		"status":           onboardingStatusCompleted,
	})
}

func TestHeartbeatMonthlyReminderSkipsExistingReport(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 1, 1001)
	seedOnboarded(store, 2, 1002)
	store.seed(domain.TableMonthlyReports, domain.Record{
		"id": "r-1", "restaurant_id": int64(1), "report_year": 2025, "report_month": 3,
	})
	notifier := &recordingNotifier{}
	h := newTestHeartbeat(store, notifier, time.Date(2025, 3, 27, 9, 0, 0, 0, time.UTC))

	if err := h.Run(context.Background(), JobMonthlyReminder); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 1002 {
		t.Fatalf("sent = %+v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "Lembrete de Fechamento Mensal") {
		t.Fatalf("text = %q", notifier.sent[0].text)
	}
}

func TestHeartbeatRevenueRequestUsesPreviousMonth(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 1, 1001)
	seedOnboarded(store, 2, 1002)
	store.seed(domain.TableMonthlyReports,
		domain.Record{"id": "r-1", "restaurant_id": int64(1), "report_year": 2024, "report_month": 12, "total_revenue": 90000.0},
		domain.Record{"id": "r-2", "restaurant_id": int64(2), "report_year": 2024, "report_month": 12},
	)
	notifier := &recordingNotifier{}
	h := newTestHeartbeat(store, notifier, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC))

	if err := h.RevenueRequest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 1002 {
		t.Fatalf("sent = %+v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "Faturamento de Dezembro") {
		t.Fatalf("text = %q", notifier.sent[0].text)
	}
}

func TestHeartbeatCMVAlertUsesLatestCompleteReport(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 1, 1001)
	seedOnboarded(store, 2, 1002)
	store.seed(domain.TableMonthlyReports,
		domain.Record{"id": "a1", "restaurant_id": int64(1), "report_year": 2025, "report_month": 1, "cmv_percent": 30.0, "status": ReportStatusComplete},
		domain.Record{"id": "a2", "restaurant_id": int64(1), "report_year": 2025, "report_month": 2, "cmv_percent": 45.5, "status": ReportStatusComplete},
		domain.Record{"id": "b1", "restaurant_id": int64(2), "report_year": 2025, "report_month": 1, "cmv_percent": 52.0, "status": ReportStatusComplete},
		domain.Record{"id": "b2", "restaurant_id": int64(2), "report_year": 2025, "report_month": 2, "cmv_percent": 31.0, "status": ReportStatusComplete},
		domain.Record{"id": "b3", "restaurant_id": int64(2), "report_year": 2025, "report_month": 3, "cmv_percent": 80.0, "status": ReportStatusAwaitingRevenue},
	)
	notifier := &recordingNotifier{}
	h := newTestHeartbeat(store, notifier, fixedNow())

	if err := h.CMVAlert(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 1001 {
		t.Fatalf("sent = %+v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "45,5%") || !strings.Contains(notifier.sent[0].text, "02/2025") {
		t.Fatalf("text = %q", notifier.sent[0].text)
	}
}

func TestHeartbeatPendingInvoicesGroupsByRestaurant(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 1, 1001)
	old := fixedNow().Add(-3 * time.Hour).Format(time.RFC3339Nano)
	fresh := fixedNow().Add(-5 * time.Minute).Format(time.RFC3339Nano)
	store.seed(domain.TableInvoices,
		domain.Record{"id": "i1", "restaurant_id": int64(1), "status": invoiceStatusUploaded, "created_at": old},
		domain.Record{"id": "i2", "restaurant_id": int64(1), "status": invoiceStatusUploaded, "created_at": old},
		domain.Record{"id": "i3", "restaurant_id": int64(1), "status": invoiceStatusUploaded, "created_at": fresh},
		domain.Record{"id": "i4", "restaurant_id": int64(1), "status": invoiceStatusParsed, "created_at": old},
	)
	notifier := &recordingNotifier{}
	h := newTestHeartbeat(store, notifier, fixedNow())

	if err := h.PendingInvoices(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0].text, "Você tem 2 nota(s)") {
		t.Fatalf("sent = %+v", notifier.sent)
	}
}

func TestHeartbeatWatchlistSendsAlerts(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 7, 7007)
	store.seed(domain.TableMasterList, domain.Record{"id": int64(5), "product_name": "Arroz Tio João 5kg"})
	store.seed(domain.TableWatchlist, domain.Record{
		"id": "w1", "restaurant_id": int64(7), "master_list_id": int64(5),
		"is_active": true, "current_price": 10.0,
	})
	store.seed(domain.TablePricingHistory, domain.Record{
		"master_list_id": int64(5), "unit_price": 12.0, "effective_date": "2025-03-10",
	})
	notifier := &recordingNotifier{}
	h := newTestHeartbeat(store, notifier, fixedNow())

	if err := h.Run(context.Background(), JobPriceWatchlist); err != nil {
		t.Fatal(err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 7007 {
		t.Fatalf("sent = %+v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "Arroz Tio João 5kg: 📈 subiu 20,0%") {
		t.Fatalf("text = %q", notifier.sent[0].text)
	}
	entry := store.rows(domain.TableWatchlist)[0]
	if entry.Float("current_price") != 12 || !entry.Has("last_alert_sent_at") {
		t.Fatalf("watchlist entry = %+v", entry)
	}
}

func TestHeartbeatWatchlistOutsideBusinessHours(t *testing.T) {
	store := newMemStore()
	store.fail[domain.TableWatchlist] = errors.New("must not be queried")
	h := newTestHeartbeat(store, &recordingNotifier{}, time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC))
	if err := h.CheckPriceWatchlist(context.Background()); err != nil {
		t.Fatalf("error = %v", err)
	}
}

func TestHeartbeatReportsSendFailures(t *testing.T) {
	store := newMemStore()
	seedOnboarded(store, 1, 1001)
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	h := newTestHeartbeat(store, notifier, time.Date(2025, 3, 27, 9, 0, 0, 0, time.UTC))

	err := h.MonthlyClosureReminder(context.Background())
	if err == nil || !strings.Contains(err.Error(), "telegram down") {
		t.Fatalf("error = %v", err)
	}
}

func TestHeartbeatUnknownJob(t *testing.T) {
	h := newTestHeartbeat(newMemStore(), &recordingNotifier{}, fixedNow())
	if err := h.Run(context.Background(), "nope"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}
