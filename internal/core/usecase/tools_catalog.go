package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const productSearchLimit = 10

func registerCatalogTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupCatalog,
		defineTool("search_products",
			"Search for products in the master catalog by name. Used to find products for watchlist, CMV, etc.",
			[]string{"query"},
			stringParam("query", "Product name or description to search"),
		),
		func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			query, err := args.RequireString("query")
			if err != nil {
				return nil, err
			}
			filters := []domain.Filter{domain.Contains("product_name", query)}
			if session != nil && session.HasRestaurant() {
				filters = append(filters, domain.Eq("restaurant_id", session.RestaurantID))
			}
			rows, err := tb.Store.FetchMany(ctx, domain.TableMasterList, domain.Where(filters...).WithLimit(productSearchLimit))
			if err != nil {
				return nil, fmt.Errorf("search products: %w", err)
			}
			products := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				products = append(products, map[string]any{
					"id":             row["id"],
					"product_name":   row.String("product_name"),
					"category":       row["category"],
					"specifications": row["specifications"],
				})
			}
			return map[string]any{"products": products, "count": len(products)}, nil
		})

	d.Register(GroupCatalog,
		defineTool("get_restaurant_suppliers",
			"Get the list of known suppliers for this restaurant.",
			nil),
		restaurantTool(func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			invoices, err := tb.Store.FetchMany(ctx, domain.TableInvoices, domain.Where(domain.Eq("restaurant_id", session.RestaurantID)))
			if err != nil {
				return nil, fmt.Errorf("fetch invoices: %w", err)
			}
			seen := map[string]bool{}
			suppliers := []map[string]any{}
			for _, inv := range invoices {
				name := inv.String("supplier_name_extracted")
				if name == "" || seen[name] {
					continue
				}
				seen[name] = true
				suppliers = append(suppliers, map[string]any{
					"name":      name,
					"cnpj":      inv["supplier_cnpj_extracted"],
					"seller_id": inv["users_seller_id"],
				})
			}
			return map[string]any{"suppliers": suppliers, "count": len(suppliers)}, nil
		}))
}
