package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func registerCMVTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupCMV,
		defineTool("add_menu_item",
			"Add a menu item (dish) to the restaurant's catalog.",
			[]string{"item_name", "sale_price"},
			stringParam("item_name", "Name of the dish"),
			numberParam("sale_price", "Price charged to customer in BRL"),
			stringParam("category", "Category of the menu item", "entrada", "prato_principal", "sobremesa", "bebida", "acompanhamento"),
			stringParam("description", "Optional description of the dish"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			name, err := args.RequireString("item_name")
			if err != nil {
				return nil, err
			}
			price, err := args.RequireFloat("sale_price")
			if err != nil {
				return nil, err
			}
			item, err := tb.Store.Insert(ctx, domain.TableMenuItems, domain.Record{
				"restaurant_id":    session.RestaurantID,
				"item_name":        name,
				"sale_price":       price,
				"category":         nullableString(args.String("category")),
				"item_description": nullableString(args.String("description")),
				"is_active":        true,
			})
			if err != nil {
				return nil, fmt.Errorf("insert menu item: %w", err)
			}
			return map[string]any{"success": true, "menu_item_id": item["id"], "item_name": name, "sale_price": price}, nil
		}))

	d.Register(GroupCMV,
		defineTool("add_ingredient",
			"Add an ingredient to a menu item's recipe card.",
			[]string{"menu_item_id", "ingredient_name", "quantity_per_serving", "unit"},
			stringParam("menu_item_id", "UUID of the menu item"),
			stringParam("ingredient_name", "Name of the ingredient"),
			numberParam("quantity_per_serving", "Amount needed per serving"),
			stringParam("unit", "Unit of measurement", "kg", "g", "un", "ml", "lt", "cx", "pct"),
			numberParam("waste_percent", "Expected waste percentage (default: 0)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			menuItemID, err := args.RequireString("menu_item_id")
			if err != nil {
				return nil, err
			}
			name, err := args.RequireString("ingredient_name")
			if err != nil {
				return nil, err
			}
			qty, err := args.RequireFloat("quantity_per_serving")
			if err != nil {
				return nil, err
			}
			unit, err := args.RequireString("unit")
			if err != nil {
				return nil, err
			}

			item, err := tb.Store.FetchOne(ctx, domain.TableMenuItems, domain.Where(
				domain.Eq("id", menuItemID),
				domain.Eq("restaurant_id", session.RestaurantID),
			))
			if err != nil {
				return nil, fmt.Errorf("fetch menu item: %w", err)
			}
			if item == nil {
				return nil, domain.WrapError(domain.ErrNotFound, "add ingredient", errors.New("menu item not found"))
			}

			record := domain.Record{
				"menu_item_id":         menuItemID,
				"ingredient_name":      name,
				"quantity_per_serving": qty,
				"unit":                 unit,
				"waste_percent":        args.Float("waste_percent", 0),
			}
			product, err := findProduct(ctx, tb.Store, session.RestaurantID, name)
			if err != nil {
				return nil, fmt.Errorf("match ingredient product: %w", err)
			}
			if product != nil {
				record["master_list_id"] = product["id"]
			}
			if _, err := tb.Store.Insert(ctx, domain.TableMenuItemIngredients, record); err != nil {
				return nil, fmt.Errorf("insert ingredient: %w", err)
			}
			return map[string]any{"success": true, "ingredient": name, "quantity": qty, "unit": unit}, nil
		}))

	d.Register(GroupCMV,
		defineTool("calculate_food_cost",
			"Calculate the food cost for a specific menu item based on current ingredient prices.",
			[]string{"menu_item_id"},
			stringParam("menu_item_id", "UUID of the menu item"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			id, err := args.RequireString("menu_item_id")
			if err != nil {
				return nil, err
			}
			return tb.FoodCost.ItemCost(ctx, session.RestaurantID, id)
		}))

	d.Register(GroupCMV,
		defineTool("get_unprofitable_items",
			"Get menu items where food cost percentage is above the threshold.",
			nil,
			numberParam("threshold", "Food cost % threshold (default: 35)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			threshold := args.Float("threshold", DefaultUnprofitableThreshold)
			rows, err := tb.Store.FetchMany(ctx, domain.TableMenuItems,
				domain.Where(
					domain.Eq("restaurant_id", session.RestaurantID),
					domain.Eq("is_active", true),
					domain.Gt("food_cost_percent", threshold),
				).OrderBy("food_cost_percent", true))
			if err != nil {
				return nil, fmt.Errorf("fetch menu items: %w", err)
			}
			items := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				items = append(items, map[string]any{
					"id":                 row["id"],
					"item_name":          row.String("item_name"),
					"sale_price":         row.Float("sale_price"),
					"food_cost":          row.Float("food_cost"),
					"food_cost_percent":  row.Float("food_cost_percent"),
					"profitability_tier": row.String("profitability_tier"),
				})
			}
			return map[string]any{"threshold": threshold, "items": items, "count": len(items)}, nil
		}))

	d.Register(GroupCMV,
		defineTool("get_cmv_history",
			"Get historical CMV/food cost data for menu items or the whole restaurant.",
			nil,
			stringParam("menu_item_id", "Specific menu item UUID (optional, omit for all)"),
			stringParam("granularity", "Time granularity (default: monthly)", "daily", "weekly", "monthly"),
			integerParam("months", "Months to look back (default: 6)"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			granularity := args.String("granularity")
			if granularity == "" {
				granularity = "monthly"
			}
			months := args.Int("months", 6)
			filters := []domain.Filter{
				domain.Eq("restaurant_id", session.RestaurantID),
				domain.Eq("granularity", granularity),
			}
			if id := args.String("menu_item_id"); id != "" {
				filters = append(filters, domain.Eq("menu_item_id", id))
			}
			rows, err := tb.Store.FetchMany(ctx, domain.TableMenuCostHistory,
				domain.Where(filters...).OrderBy("snapshot_date", true).WithLimit(months*30))
			if err != nil {
				return nil, fmt.Errorf("fetch cmv history: %w", err)
			}
			if rows == nil {
				rows = []domain.Record{}
			}
			return map[string]any{"history": rows, "granularity": granularity}, nil
		}))
}
