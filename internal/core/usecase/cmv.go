package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	TierNegative = "negative"
	TierLow      = "low"
	TierMedium   = "medium"
	TierHigh     = "high"

	DefaultUnprofitableThreshold = 35.0
)

// ProfitabilityTier classifies a food-cost percentage.
func ProfitabilityTier(foodCostPercent float64) string {
	switch {
	case foodCostPercent > 40:
		return TierNegative
	case foodCostPercent > 35:
		return TierLow
	case foodCostPercent > 28:
		return TierMedium
	default:
		return TierHigh
	}
}

type IngredientCost struct {
	Name           string   `json:"name"`
	Quantity       float64  `json:"quantity"`
	Unit           string   `json:"unit"`
	UnitCost       *float64 `json:"unit_cost"`
	CostPerServing *float64 `json:"cost_per_serving"`
	WastePercent   float64  `json:"waste_percent"`
	Error          string   `json:"error,omitempty"`
}

type MenuItemCost struct {
	MenuItem           string           `json:"menu_item"`
	SalePrice          float64          `json:"sale_price"`
	FoodCost           float64          `json:"food_cost"`
	FoodCostPercent    float64          `json:"food_cost_percent"`
	ContributionMargin float64          `json:"contribution_margin"`
	Tier               string           `json:"profitability_tier"`
	Ingredients        []IngredientCost `json:"ingredients"`
}

// FoodCostCalculator prices recipes from the latest known ingredient costs.
type FoodCostCalculator struct {
	store ports.Store
	now   func() time.Time
}

func NewFoodCostCalculator(store ports.Store) *FoodCostCalculator {
	return &FoodCostCalculator{store: store, now: time.Now}
}

// ItemCost recalculates and persists the food cost of a menu item.
func (c *FoodCostCalculator) ItemCost(ctx context.Context, restaurantID int64, menuItemID string) (MenuItemCost, error) {
	item, err := c.store.FetchOne(ctx, domain.TableMenuItems, domain.Where(domain.Eq("id", menuItemID)))
	if err != nil {
		return MenuItemCost{}, fmt.Errorf("fetch menu item: %w", err)
	}
	if item == nil || (restaurantID != 0 && item.Int64("restaurant_id") != restaurantID) {
		return MenuItemCost{}, domain.WrapError(domain.ErrNotFound, "calculate food cost", errors.New("menu item not found"))
	}

	ingredients, err := c.store.FetchMany(ctx, domain.TableMenuItemIngredients, domain.Where(domain.Eq("menu_item_id", menuItemID)))
	if err != nil {
		return MenuItemCost{}, fmt.Errorf("fetch ingredients: %w", err)
	}

	salePrice := item.Float("sale_price")
	total := 0.0
	details := make([]IngredientCost, 0, len(ingredients))
	for _, ing := range ingredients {
		detail := IngredientCost{
			Name:         ing.String("ingredient_name"),
			Quantity:     ing.Float("quantity_per_serving"),
			Unit:         ing.String("unit"),
			WastePercent: ing.Float("waste_percent"),
		}
		unitCost, found, err := c.ingredientUnitCost(ctx, ing)
		if err != nil {
			return MenuItemCost{}, err
		}
		if !found {
			detail.Error = "Preco nao encontrado"
			details = append(details, detail)
			continue
		}

		perServing := detail.Quantity * unitCost
		adjusted := perServing * (1 + detail.WastePercent/100)
		total += adjusted

		_, err = c.store.Update(ctx, domain.TableMenuItemIngredients,
			[]domain.Filter{domain.Eq("id", ing["id"])},
			domain.Record{
				"current_unit_cost":         unitCost,
				"cost_per_serving":          perServing,
				"adjusted_cost_per_serving": adjusted,
				"cost_source":               "invoice_latest",
				"cost_last_updated":         c.now().UTC(),
			})
		if err != nil {
			return MenuItemCost{}, fmt.Errorf("update ingredient cost: %w", err)
		}

		rounded := round(adjusted, 4)
		detail.UnitCost = &unitCost
		detail.CostPerServing = &rounded
		details = append(details, detail)
	}

	percent := 0.0
	if salePrice > 0 {
		percent = total / salePrice * 100
	}
	result := MenuItemCost{
		MenuItem:           item.String("item_name"),
		SalePrice:          salePrice,
		FoodCost:           round(total, 2),
		FoodCostPercent:    round(percent, 2),
		ContributionMargin: round(salePrice-total, 2),
		Tier:               ProfitabilityTier(percent),
		Ingredients:        details,
	}

	_, err = c.store.Update(ctx, domain.TableMenuItems,
		[]domain.Filter{domain.Eq("id", menuItemID)},
		domain.Record{
			"food_cost":           result.FoodCost,
			"food_cost_percent":   result.FoodCostPercent,
			"contribution_margin": result.ContributionMargin,
			"profitability_tier":  result.Tier,
		})
	if err != nil {
		return MenuItemCost{}, fmt.Errorf("update menu item cost: %w", err)
	}
	return result, nil
}

// ingredientUnitCost looks for the latest price by catalog id, then by
// name on invoice lines, then in the procurement pricing history.
func (c *FoodCostCalculator) ingredientUnitCost(ctx context.Context, ing domain.Record) (float64, bool, error) {
	masterID := ing.Int64("master_list_id")
	latest := func(table string, q domain.Query) (float64, bool, error) {
		row, err := c.store.FetchOne(ctx, table, q)
		if err != nil {
			return 0, false, fmt.Errorf("fetch ingredient price: %w", err)
		}
		if row == nil {
			return 0, false, nil
		}
		price := row.Float("unit_price")
		return price, price != 0, nil
	}

	if masterID != 0 {
		price, ok, err := latest(domain.TableInvoiceLineItems,
			domain.Where(domain.Eq("master_list_id", masterID)).OrderBy("created_at", true))
		if err != nil || ok {
			return price, ok, err
		}
	}

	price, ok, err := latest(domain.TableInvoiceLineItems,
		domain.Where(domain.Contains("product_name_raw", ing.String("ingredient_name"))).OrderBy("created_at", true))
	if err != nil || ok {
		return price, ok, err
	}

	if masterID != 0 {
		return latest(domain.TablePricingHistory,
			domain.Where(domain.Eq("master_list_id", masterID), domain.IsNull("end_date")).OrderBy("effective_date", true))
	}
	return 0, false, nil
}

var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"Proteinas", []string{"carne", "frango", "peixe", "picanha", "alcatra", "costela", "file", "linguica", "bacon", "peito", "coxa", "asa", "camarao", "salmao", "tilapia", "porco", "bovina"}},
	{"Hortifruti", []string{"tomate", "cebola", "alface", "batata", "cenoura", "limao", "alho", "pimentao", "pepino", "abobrinha", "brocolis", "rucula", "banana", "laranja", "maca"}},
	{"Mercearia", []string{"arroz", "feijao", "oleo", "azeite", "sal", "acucar", "farinha", "macarrao", "molho", "tempero", "vinagre", "extrato", "catchup"}},
	{"Laticinios", []string{"leite", "queijo", "manteiga", "creme", "iogurte", "requeijao", "mussarela", "parmesao", "nata"}},
	{"Bebidas", []string{"cerveja", "refrigerante", "suco", "agua", "vinho", "cafe", "coca", "guarana", "cha"}},
}

const categoryOther = "Outros"

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CategorizeProduct maps a raw invoice product name to a spend category.
func CategorizeProduct(name string) string {
	folded := strings.ToLower(foldAccents(name))
	for _, category := range categoryKeywords {
		for _, kw := range category.keywords {
			if strings.Contains(folded, kw) {
				return category.name
			}
		}
	}
	return categoryOther
}

// CategoryBreakdown sums invoice line totals per category for the given
// invoices. Every category is present, in a fixed order.
func CategoryBreakdown(ctx context.Context, store ports.Store, invoiceIDs []any) ([]domain.CategorySpend, error) {
	totals := map[string]float64{}
	if len(invoiceIDs) > 0 {
		items, err := store.FetchMany(ctx, domain.TableInvoiceLineItems, domain.Where(domain.In("invoice_id", invoiceIDs...)))
		if err != nil {
			return nil, fmt.Errorf("fetch line items: %w", err)
		}
		for _, item := range items {
			totals[CategorizeProduct(item.String("product_name_raw"))] += item.Float("total_price")
		}
	}

	out := make([]domain.CategorySpend, 0, len(categoryKeywords)+1)
	for _, category := range categoryKeywords {
		out = append(out, domain.CategorySpend{Name: category.name, Total: round(totals[category.name], 2)})
	}
	out = append(out, domain.CategorySpend{Name: categoryOther, Total: round(totals[categoryOther], 2)})
	return out, nil
}
