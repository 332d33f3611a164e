package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

var (
	preferenceTypes     = []string{PreferenceBrand, PreferencePriceMax, PreferenceQuality, "supplier", "specification"}
	correctionContexts  = []string{"onboarding", "drip", "purchase", "manual"}
	engagementChoiceTag = map[int]string{1: "Top 5", 2: "Top 10", 3: "Pular"}
)

// saveProductPreference upserts one preference of a catalog product and
// marks its queue entry as collected. It returns false when the product is
// not in the restaurant's catalog.
func saveProductPreference(ctx context.Context, tb *Toolbox, restaurantID int64, productName, prefType, value, source string) (bool, error) {
	product, err := findProduct(ctx, tb.Store, restaurantID, productName)
	if err != nil {
		return false, fmt.Errorf("search product: %w", err)
	}
	if product == nil {
		return false, nil
	}
	masterID := product["id"]
	now := tb.now().UTC()

	patch := domain.Record{}
	switch prefType {
	case PreferenceBrand:
		patch["brand_preferences"] = map[string]any{"brand": value}
		patch["brand_preferences_source"] = source
		patch["brand_preferences_added_at"] = now
	case PreferencePriceMax:
		patch["price_preference"] = value
		patch["price_preference_source"] = source
		patch["price_preference_added_at"] = now
	case PreferenceQuality:
		patch["quality_preference"] = map[string]any{"quality": value}
		patch["quality_preference_source"] = source
		patch["quality_preference_added_at"] = now
	}

	if len(patch) > 0 {
		patch["restaurant_id"] = restaurantID
		patch["master_list_id"] = masterID
		patch["is_active"] = true

		key := []domain.Filter{domain.Eq("restaurant_id", restaurantID), domain.Eq("master_list_id", masterID)}
		existing, err := tb.Store.FetchOne(ctx, domain.TableProductPreferences, domain.Where(key...))
		if err != nil {
			return false, fmt.Errorf("fetch product preference: %w", err)
		}
		if existing != nil {
			_, err = tb.Store.Update(ctx, domain.TableProductPreferences, []domain.Filter{domain.Eq("id", existing["id"])}, patch)
		} else {
			_, err = tb.Store.Insert(ctx, domain.TableProductPreferences, patch)
		}
		if err != nil {
			return false, fmt.Errorf("save product preference: %w", err)
		}
	}

	_, err = tb.Store.Update(ctx, domain.TablePreferenceQueue,
		[]domain.Filter{domain.Eq("restaurant_id", restaurantID), domain.Eq("master_list_id", masterID)},
		domain.Record{"preference_status": queueStatusCollected})
	if err != nil {
		return false, fmt.Errorf("update preference queue: %w", err)
	}
	return true, nil
}

func registerPreferenceTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupPreferences,
		defineTool("save_engagement_choice_finance",
			"Save the user's engagement choice during onboarding. 1=Top 5 (quick), 2=Top 10 (complete), 3=Skip.",
			[]string{"choice"},
			integerParam("choice", "1=Top 5, 2=Top 10, 3=Skip"),
		),
		func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			choice := args.Int("choice", 0)
			label, ok := engagementChoiceTag[choice]
			if !ok {
				return nil, domain.WrapError(domain.ErrInvalidInput, "save engagement choice", fmt.Errorf("choice must be 1, 2 or 3, got %d", choice))
			}
			_, err := tb.Store.Update(ctx, domain.TableFinanceOnboarding, []domain.Filter{
				domain.Eq("telegram_chat_id", session.ChatID),
				domain.Eq("status", onboardingStatusInProgress),
			}, domain.Record{"engagement_choice": choice, "engagement_choice_at": tb.now().UTC()})
			if err != nil {
				return nil, fmt.Errorf("save engagement choice: %w", err)
			}

			result := map[string]any{"success": true, "choice": choice, "label": label}
			if session.HasRestaurant() {
				score, err := tb.Engagement.SaveOnboardingChoice(ctx, session.RestaurantID, choice)
				if err != nil {
					return nil, err
				}
				result["engagement_level"] = score.Level
			}
			return result, nil
		})

	d.Register(GroupPreferences,
		defineTool("save_product_preference_finance",
			"Save a product preference collected during onboarding or drip questions.",
			[]string{"product_name", "preference_type", "value"},
			stringParam("product_name", "The product name"),
			stringParam("preference_type", "Type of preference", preferenceTypes...),
			stringParam("value", "The preference value"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			product, err := args.RequireString("product_name")
			if err != nil {
				return nil, err
			}
			prefType, err := args.RequireString("preference_type")
			if err != nil {
				return nil, err
			}
			value, err := args.RequireString("value")
			if err != nil {
				return nil, err
			}
			found, err := saveProductPreference(ctx, tb, session.RestaurantID, product, prefType, value, "onboarding")
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "product": product, "type": prefType, "value": value, "matched_product": found}, nil
		}))

	d.Register(GroupPreferences,
		defineTool("answer_drip_question",
			"Save the user's response to a drip preference question.",
			[]string{"product_name", "preference_type"},
			stringParam("product_name", "The product being asked about"),
			stringParam("preference_type", "Type of preference", preferenceTypes...),
			stringParam("value", "The user's answer"),
			boolParam("skip", "True if the user wants to skip this question"),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			product, err := args.RequireString("product_name")
			if err != nil {
				return nil, err
			}
			prefType, err := args.RequireString("preference_type")
			if err != nil {
				return nil, err
			}
			value := args.String("value")
			skip := args.Bool("skip", false) || value == ""

			profile, err := tb.Engagement.RecordDripAnswer(ctx, session.RestaurantID, skip)
			if err != nil {
				return nil, err
			}

			if !skip {
				found, err := saveProductPreference(ctx, tb, session.RestaurantID, product, prefType, value, "drip")
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "product": product, "type": prefType, "value": value, "matched_product": found}, nil
			}

			match, err := findProduct(ctx, tb.Store, session.RestaurantID, product)
			if err != nil {
				return nil, fmt.Errorf("search product: %w", err)
			}
			if match != nil {
				_, err = tb.Store.Update(ctx, domain.TablePreferenceQueue,
					[]domain.Filter{domain.Eq("restaurant_id", session.RestaurantID), domain.Eq("master_list_id", match["id"])},
					domain.Record{
						"preference_status": queueStatusSkipped,
						"asked_count":       profile.Int("drip_questions_asked") + 1,
						"last_asked_at":     tb.now().UTC(),
					})
				if err != nil {
					return nil, fmt.Errorf("update preference queue: %w", err)
				}
			}
			return map[string]any{"success": true, "skipped": true, "product": product}, nil
		}))

	d.Register(GroupPreferences,
		defineTool("save_preference_correction",
			"Save when a user corrects a recommendation or suggestion. Always ask WHY they prefer the correction before calling this.",
			[]string{"preference_type", "corrected_value", "context"},
			stringParam("product_name", "The product name (optional for global corrections)"),
			stringParam("preference_type", "Type of preference being corrected", preferenceTypes...),
			stringParam("original_value", "What the system suggested"),
			stringParam("corrected_value", "What the user wants instead"),
			stringParam("reason", "Why the user prefers this (key learning data)"),
			stringParam("context", "Where this correction happened", correctionContexts...),
		),
		restaurantTool(func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			prefType, err := args.RequireString("preference_type")
			if err != nil {
				return nil, err
			}
			corrected, err := args.RequireString("corrected_value")
			if err != nil {
				return nil, err
			}
			correctionCtx, err := args.RequireString("context")
			if err != nil {
				return nil, err
			}
			productName := args.String("product_name")
			reason := args.String("reason")

			var masterID any
			if productName != "" {
				product, err := findProduct(ctx, tb.Store, session.RestaurantID, productName)
				if err != nil {
					return nil, fmt.Errorf("search product: %w", err)
				}
				if product != nil {
					masterID = product["id"]
				}
			}

			record := domain.Record{
				"restaurant_id":      session.RestaurantID,
				"master_list_id":     masterID,
				"preference_type":    prefType,
				"original_value":     jsonString(args.String("original_value")),
				"corrected_value":    jsonString(corrected),
				"correction_reason":  nullableString(reason),
				"correction_context": correctionCtx,
			}
			if session.PersonID != 0 {
				record["person_id"] = session.PersonID
			}
			if _, err := tb.Store.Insert(ctx, domain.TablePreferenceCorrections, record); err != nil {
				return nil, fmt.Errorf("insert correction: %w", err)
			}

			if masterID != nil {
				if _, err := saveProductPreference(ctx, tb, session.RestaurantID, productName, prefType, corrected, "correction"); err != nil {
					return nil, err
				}
			}
			if err := tb.Engagement.RecordCorrection(ctx, session.RestaurantID, reason != ""); err != nil {
				return nil, err
			}
			if _, err := tb.Engagement.Recalculate(ctx, session.RestaurantID); err != nil {
				return nil, err
			}
			return map[string]any{
				"success":      true,
				"product":      productName,
				"type":         prefType,
				"corrected_to": corrected,
				"has_reason":   reason != "",
			}, nil
		}))
}

// jsonString encodes a value as a JSON string literal, or nil when blank.
func jsonString(v string) any {
	if v == "" {
		return nil
	}
	encoded, _ := json.Marshal(v)
	return string(encoded)
}
