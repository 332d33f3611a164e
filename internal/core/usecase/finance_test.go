package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func TestProfitabilityTier(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{45, TierNegative},
		{40.01, TierNegative},
		{40, TierLow},
		{35.5, TierLow},
		{35, TierMedium},
		{28.1, TierMedium},
		{28, TierHigh},
		{10, TierHigh},
	}
	for _, tc := range tests {
		if got := ProfitabilityTier(tc.percent); got != tc.want {
			t.Fatalf("ProfitabilityTier(%v) = %s, want %s", tc.percent, got, tc.want)
		}
	}
}

func TestFoodCostCalculatorItemCost(t *testing.T) {
	store := newMemStore()
	store.seed(domain.TableMenuItems, domain.Record{"id": "m1", "restaurant_id": int64(7), "item_name": "Prato Feito", "sale_price": 40.0})
	store.seed(domain.TableMenuItemIngredients,
		domain.Record{"id": "g1", "menu_item_id": "m1", "ingredient_name": "Carne", "master_list_id": int64(1), "quantity_per_serving": 0.2, "unit": "kg", "waste_percent": 10.0},
		domain.Record{"id": "g2", "menu_item_id": "m1", "ingredient_name": "Tomate", "quantity_per_serving": 0.5, "unit": "kg"},
		domain.Record{"id": "g3", "menu_item_id": "m1", "ingredient_name": "Azeite", "master_list_id": int64(3), "quantity_per_serving": 0.1, "unit": "l"},
		domain.Record{"id": "g4", "menu_item_id": "m1", "ingredient_name": "Açafrão", "quantity_per_serving": 0.01, "unit": "kg"},
	)
	store.seed(domain.TableInvoiceLineItems,
		domain.Record{"id": "l1", "master_list_id": int64(1), "product_name_raw": "CARNE MOIDA", "unit_price": 30.0, "created_at": "2025-03-01T00:00:00Z"},
		domain.Record{"id": "l2", "product_name_raw": "TOMATE ITALIANO KG", "unit_price": 8.0, "created_at": "2025-03-02T00:00:00Z"},
	)
	store.seed(domain.TablePricingHistory,
		domain.Record{"master_list_id": int64(3), "unit_price": 25.0, "effective_date": "2024-12-01", "end_date": "2025-01-01"},
		domain.Record{"master_list_id": int64(3), "unit_price": 20.0, "effective_date": "2025-01-01"},
	)
	calc := NewFoodCostCalculator(store)
	calc.now = fixedNow

	cost, err := calc.ItemCost(context.Background(), 7, "m1")
	if err != nil {
		t.Fatalf("ItemCost() error = %v", err)
	}
	if cost.FoodCost != 12.6 || cost.FoodCostPercent != 31.5 || cost.ContributionMargin != 27.4 || cost.Tier != TierMedium {
		t.Fatalf("cost = %+v", cost)
	}
	if len(cost.Ingredients) != 4 || cost.Ingredients[3].Error == "" || cost.Ingredients[3].UnitCost != nil {
		t.Fatalf("ingredients = %+v", cost.Ingredients)
	}
	if *cost.Ingredients[2].UnitCost != 20 {
		t.Fatalf("pricing history fallback = %v", *cost.Ingredients[2].UnitCost)
	}

	item := store.rows(domain.TableMenuItems)[0]
	if item.Float("food_cost_percent") != 31.5 || item.String("profitability_tier") != TierMedium {
		t.Fatalf("menu item not updated: %+v", item)
	}
}

func TestFoodCostCalculatorScopesRestaurant(t *testing.T) {
	store := newMemStore()
	store.seed(domain.TableMenuItems, domain.Record{"id": "m1", "restaurant_id": int64(8), "sale_price": 10.0})
	_, err := NewFoodCostCalculator(store).ItemCost(context.Background(), 7, "m1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCategorizeProduct(t *testing.T) {
	tests := map[string]string{
		"Filé de Frango Sadia": "Proteinas",
		"AÇÚCAR REFINADO 1KG":  "Mercearia",
		"Guaraná Antarctica":   "Bebidas",
		"Queijo Mussarela":     "Laticinios",
		"Cebola Roxa":          "Hortifruti",
		"Guardanapo":           "Outros",
	}
	for name, want := range tests {
		if got := CategorizeProduct(name); got != want {
			t.Fatalf("CategorizeProduct(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestCMVStatus(t *testing.T) {
	if got := CMVStatus(30, 32); got != domain.CMVStatusOnTarget {
		t.Fatalf("30 = %s", got)
	}
	if got := CMVStatus(40, 32); got != domain.CMVStatusAboveTarget {
		t.Fatalf("40 = %s", got)
	}
	if got := CMVStatus(40.1, 32); got != domain.CMVStatusCritical {
		t.Fatalf("40.1 = %s", got)
	}
}

func TestDefaultClosurePeriod(t *testing.T) {
	tests := []struct {
		now         time.Time
		year, month int
	}{
		{time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), 2025, 2},
		{time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 2025, 2},
		{time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), 2025, 3},
		{time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), 2024, 12},
	}
	for _, tc := range tests {
		year, month := DefaultClosurePeriod(tc.now)
		if year != tc.year || month != tc.month {
			t.Fatalf("DefaultClosurePeriod(%s) = %d/%d, want %d/%d", tc.now.Format(time.DateOnly), month, year, tc.month, tc.year)
		}
	}
}

func seedMarchPurchases(store *memStore) {
	store.seed(domain.TableInvoices,
		domain.Record{"id": "i1", "restaurant_id": int64(7), "invoice_date": "2025-03-05", "supplier_name_extracted": "Atacadão", "total_amount": 600.0, "status": invoiceStatusParsed},
		domain.Record{"id": "i2", "restaurant_id": int64(7), "invoice_date": "2025-03-20", "supplier_name_extracted": "Hortifruti", "total_amount": 300.0, "status": invoiceStatusConfirmed},
		domain.Record{"id": "i3", "restaurant_id": int64(7), "invoice_date": "2025-03-28", "supplier_name_extracted": "Atacadão", "total_amount": 100.0, "status": invoiceStatusParsed},
		domain.Record{"id": "i4", "restaurant_id": int64(7), "invoice_date": "2025-03-29", "supplier_name_extracted": "X", "total_amount": 999.0, "status": invoiceStatusUploaded},
		domain.Record{"id": "i5", "restaurant_id": int64(7), "invoice_date": "2025-04-01", "supplier_name_extracted": "Y", "total_amount": 50.0, "status": invoiceStatusParsed},
		domain.Record{"id": "i6", "restaurant_id": int64(8), "invoice_date": "2025-03-10", "supplier_name_extracted": "Z", "total_amount": 70.0, "status": invoiceStatusParsed},
	)
	store.seed(domain.TableInvoiceLineItems,
		domain.Record{"invoice_id": "i1", "product_name_raw": "ARROZ 5KG", "total_price": 600.0},
		domain.Record{"invoice_id": "i2", "product_name_raw": "TOMATE", "total_price": 300.0},
		domain.Record{"invoice_id": "i3", "product_name_raw": "Guardanapo", "total_price": 100.0},
	)
}

func TestCashflowPurchases(t *testing.T) {
	store := newMemStore()
	seedMarchPurchases(store)

	got, err := NewCashflow(store).Purchases(context.Background(), 7, 2025, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Total != 1000 || got.InvoiceCount != 3 || len(got.Suppliers) != 2 {
		t.Fatalf("purchases = %+v", got)
	}
	top := got.Suppliers[0]
	if top.Name != "Atacadão" || top.Total != 700 || top.Percent != 70 || top.Count != 2 {
		t.Fatalf("top supplier = %+v", top)
	}
}

func TestCashflowGenerateReport(t *testing.T) {
	store := newMemStore()
	seedMarchPurchases(store)
	store.seed(domain.TableMonthlyReports,
		domain.Record{"id": "feb", "restaurant_id": int64(7), "report_year": 2025, "report_month": 2, "total_purchases": 800.0},
		domain.Record{"id": "mar", "restaurant_id": int64(7), "report_year": 2025, "report_month": 3, "total_revenue": 2500.0, "status": ReportStatusAwaitingRevenue},
	)
	cf := NewCashflow(store)
	cf.now = fixedNow

	report, err := cf.GenerateReport(context.Background(), 7, "mar")
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	if report.Purchases != 1000 || report.CMVPercent != 40 || report.Status != domain.CMVStatusAboveTarget {
		t.Fatalf("report = %+v", report)
	}
	if report.MoMChange == nil || *report.MoMChange != 25 {
		t.Fatalf("mom change = %v", report.MoMChange)
	}
	if len(report.Insights) != 3 || !strings.HasPrefix(report.Insights[0], "Maior fornecedor: Atacadão (70% das compras, R$ 700,00)") {
		t.Fatalf("insights = %q", report.Insights)
	}
	categories := map[string]float64{}
	for _, c := range report.Categories {
		categories[c.Name] = c.Total
	}
	if len(report.Categories) != 6 || categories["Mercearia"] != 600 || categories["Hortifruti"] != 300 || categories["Outros"] != 100 {
		t.Fatalf("categories = %+v", report.Categories)
	}

	var row domain.Record
	for _, r := range store.rows(domain.TableMonthlyReports) {
		if r.String("id") == "mar" {
			row = r
		}
	}
	if row.String("status") != ReportStatusComplete || row.String("cmv_status") != domain.CMVStatusAboveTarget || !row.Has("generated_at") {
		t.Fatalf("stored report = %+v", row)
	}
}

func TestCashflowGenerateReportOtherRestaurant(t *testing.T) {
	store := newMemStore()
	store.seed(domain.TableMonthlyReports, domain.Record{"id": "mar", "restaurant_id": int64(8), "report_year": 2025, "report_month": 3})
	_, err := NewCashflow(store).GenerateReport(context.Background(), 7, "mar")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v", err)
	}
}

func TestCashflowStartClosureReusesReport(t *testing.T) {
	store := newMemStore()
	cf := NewCashflow(store)
	ctx := context.Background()

	first, existed, err := cf.StartClosure(ctx, 7, 2025, 2)
	if err != nil || existed {
		t.Fatalf("first = %+v existed %v err %v", first, existed, err)
	}
	second, existed, err := cf.StartClosure(ctx, 7, 2025, 2)
	if err != nil || !existed || second.String("id") != first.String("id") {
		t.Fatalf("second = %+v existed %v err %v", second, existed, err)
	}
	if len(store.rows(domain.TableMonthlyReports)) != 1 {
		t.Fatal("closure created a duplicate report")
	}
}
