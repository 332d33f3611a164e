package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func registerWatchlistTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupWatchlist,
		defineTool("add_to_watchlist",
			"Add a product to the price watchlist for monitoring.",
			[]string{"product_name"},
			stringParam("product_name", "Product name to watch"),
			stringParam("alert_type", "Type of alert to set",
				AlertAnyChange, AlertPriceDrop, AlertPriceIncrease, AlertCompetitorBetter, AlertThreshold),
			numberParam("threshold_percent", "Alert if change exceeds this %"),
			numberParam("target_price", "Alert if price crosses this value"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			name, err := args.RequireString("product_name")
			if err != nil {
				return nil, err
			}
			product, err := findProduct(ctx, tb.Store, session.RestaurantID, name)
			if err != nil {
				return nil, fmt.Errorf("search product: %w", err)
			}
			if product == nil {
				return nil, domain.WrapError(domain.ErrNotFound, "add to watchlist",
					fmt.Errorf("produto '%s' nao encontrado na lista mestre", name))
			}

			alertType := args.String("alert_type")
			if alertType == "" {
				alertType = AlertAnyChange
			}
			record := domain.Record{
				"restaurant_id":  session.RestaurantID,
				"master_list_id": product["id"],
				"alert_type":     alertType,
				"is_active":      true,
			}
			if v, ok := args.FloatOK("threshold_percent"); ok {
				record["threshold_percent"] = v
			}
			if v, ok := args.FloatOK("target_price"); ok {
				record["target_price"] = v
			}
			price, found, err := tb.Trends.LatestPrice(ctx, product.Int64("id"))
			if err != nil {
				return nil, err
			}
			if found {
				record["current_price"] = price
			}

			entry, err := tb.Store.Insert(ctx, domain.TableWatchlist, record)
			if err != nil {
				return nil, fmt.Errorf("insert watchlist entry: %w", err)
			}
			return map[string]any{
				"success":      true,
				"watchlist_id": entry["id"],
				"product_name": product.String("product_name"),
				"alert_type":   alertType,
			}, nil
		}))

	d.Register(GroupWatchlist,
		defineTool("remove_from_watchlist",
			"Remove a product from the price watchlist.",
			[]string{"watchlist_id"},
			stringParam("watchlist_id", "UUID of the watchlist entry"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			id, err := args.RequireString("watchlist_id")
			if err != nil {
				return nil, err
			}
			updated, err := tb.Store.Update(ctx, domain.TableWatchlist, []domain.Filter{
				domain.Eq("id", id),
				domain.Eq("restaurant_id", session.RestaurantID),
			}, domain.Record{"is_active": false})
			if err != nil {
				return nil, fmt.Errorf("remove watchlist entry: %w", err)
			}
			if updated == nil {
				return nil, domain.WrapError(domain.ErrNotFound, "remove from watchlist", errors.New("watchlist entry not found"))
			}
			return map[string]any{"success": true, "removed": id}, nil
		}))

	d.Register(GroupWatchlist,
		defineTool("get_watchlist",
			"Get all products currently on the price watchlist.",
			nil),
		restaurantTool(func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			rows, err := tb.Store.FetchMany(ctx, domain.TableWatchlist, domain.Where(
				domain.Eq("restaurant_id", session.RestaurantID),
				domain.Eq("is_active", true),
			))
			if err != nil {
				return nil, fmt.Errorf("fetch watchlist: %w", err)
			}
			items := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				name := unknownWatchlistProduct
				product, err := tb.Store.FetchOne(ctx, domain.TableMasterList, domain.Where(domain.Eq("id", row["master_list_id"])))
				if err != nil {
					return nil, fmt.Errorf("fetch watched product: %w", err)
				}
				if product != nil {
					name = product.String("product_name")
				}
				items = append(items, map[string]any{
					"id":                    row["id"],
					"product_name":          name,
					"alert_type":            row.String("alert_type"),
					"current_price":         row["current_price"],
					"target_price":          row["target_price"],
					"threshold_percent":     row["threshold_percent"],
					"best_competitor_price": row["best_competitor_price"],
				})
			}
			return map[string]any{"items": items, "count": len(items)}, nil
		}))

	d.Register(GroupWatchlist,
		defineTool("check_watchlist_alerts",
			"Manually check for price alerts on all watchlist items.",
			nil),
		restaurantTool(func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			alerts, err := tb.Trends.CheckWatchlist(ctx, session.RestaurantID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"alerts": alerts, "count": len(alerts)}, nil
		}))
}
