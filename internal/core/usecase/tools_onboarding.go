package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

var onboardingFields = []string{
	"restaurant_name", "person_name", "is_owner", "relationship", "city", "state",
	"savings_opportunity", "wants_invoice_upload", "engagement_choice",
}

// onboardingNextPhase maps a saved field to the phase that follows it.
var onboardingNextPhase = map[string]string{
	"restaurant_name":      "person_name",
	"person_name":          "relationship",
	"is_owner":             "city_state",
	"relationship":         "city_state",
	"city":                 "savings_opportunity",
	"state":                "savings_opportunity",
	"savings_opportunity":  "invoice_offer",
	"wants_invoice_upload": "engagement_gauge",
	"engagement_choice":    "completed",
}

func onboardingValue(field string, args ToolArgs) any {
	switch field {
	case "is_owner", "wants_invoice_upload":
		return args.Bool("value", false)
	case "engagement_choice":
		return args.Int("value", 0)
	default:
		return args.String("value")
	}
}

func registerOnboardingTools(d *ToolDispatcher, tb *Toolbox) {
	d.Register(GroupOnboarding,
		defineTool("save_onboarding_step",
			"Save a single step of the finance onboarding process. Call this as each piece of information is collected from the user.",
			[]string{"field", "value"},
			stringParam("field", "Which onboarding field to save", onboardingFields...),
			stringParam("value", "The value to save for this field"),
		),
		func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error) {
			field, err := args.RequireString("field")
			if err != nil {
				return nil, err
			}
			if _, ok := onboardingNextPhase[field]; !ok {
				return nil, domain.WrapError(domain.ErrInvalidInput, "save onboarding step", fmt.Errorf("unknown field %q", field))
			}
			value := onboardingValue(field, args)

			current, err := tb.Store.FetchOne(ctx, domain.TableFinanceOnboarding, domain.Where(
				domain.Eq("telegram_chat_id", session.ChatID),
				domain.Eq("status", onboardingStatusInProgress),
			))
			if err != nil {
				return nil, fmt.Errorf("fetch onboarding: %w", err)
			}

			if current != nil {
				_, err = tb.Store.Update(ctx, domain.TableFinanceOnboarding,
					[]domain.Filter{domain.Eq("id", current["id"])},
					domain.Record{field: value, "current_phase": onboardingNextPhase[field]})
			} else {
				phase := field
				if field == "restaurant_name" {
					phase = "person_name"
				}
				record := domain.Record{
					"telegram_chat_id": session.ChatID,
					"status":           onboardingStatusInProgress,
					"current_phase":    phase,
					field:              value,
				}
				if session.HasRestaurant() {
					record["restaurant_id"] = session.RestaurantID
				}
				_, err = tb.Store.Insert(ctx, domain.TableFinanceOnboarding, record)
			}
			if err != nil {
				return nil, fmt.Errorf("save onboarding step: %w", err)
			}

			switch field {
			case "restaurant_name":
				session.RestaurantName = args.String("value")
			case "person_name":
				session.PersonName = args.String("value")
			}
			return map[string]any{"success": true, "field": field, "saved": value}, nil
		})

	d.Register(GroupOnboarding,
		defineTool("complete_onboarding",
			"Mark the finance onboarding as complete. Call this after all 5 steps are finished.",
			nil),
		func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			current, err := tb.Store.FetchOne(ctx, domain.TableFinanceOnboarding, domain.Where(
				domain.Eq("telegram_chat_id", session.ChatID),
				domain.Eq("status", onboardingStatusInProgress),
			))
			if err != nil {
				return nil, fmt.Errorf("fetch onboarding: %w", err)
			}

			patch := domain.Record{
				"status":        onboardingStatusCompleted,
				"current_phase": onboardingStatusCompleted,
				"completed_at":  tb.now().UTC(),
			}
			if !session.HasRestaurant() && current != nil {
				name := current.String("restaurant_name")
				if name == "" {
					name = session.RestaurantName
				}
				restaurant, err := tb.Store.Insert(ctx, domain.TableRestaurants, domain.Record{
					"restaurant_name": name,
					"city":            current["city"],
					"state":           current["state"],
				})
				if err != nil {
					return nil, fmt.Errorf("create restaurant: %w", err)
				}
				session.RestaurantID = restaurant.Int64("id")
				session.RestaurantName = name
			}
			if session.HasRestaurant() {
				patch["restaurant_id"] = session.RestaurantID
			}

			if _, err := tb.Store.Update(ctx, domain.TableFinanceOnboarding, []domain.Filter{
				domain.Eq("telegram_chat_id", session.ChatID),
				domain.Eq("status", onboardingStatusInProgress),
			}, patch); err != nil {
				return nil, fmt.Errorf("complete onboarding: %w", err)
			}

			if current != nil && session.HasRestaurant() {
				if choice := current.Int("engagement_choice"); choice != 0 {
					if _, err := tb.Engagement.SaveOnboardingChoice(ctx, session.RestaurantID, choice); err != nil {
						return nil, err
					}
				}
			}

			session.IsNewUser = false
			session.OnboardingComplete = true
			return map[string]any{"success": true, "message": "Onboarding completed", "restaurant_id": session.RestaurantID}, nil
		})

	d.Register(GroupOnboarding,
		defineTool("check_existing_user",
			"Check if this Telegram user already exists in the Frepi procurement system.",
			nil),
		func(ctx context.Context, _ ToolArgs, session *domain.Session) (any, error) {
			id, err := tb.Identifier.Identify(ctx, session.ChatID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"is_known":                id.Known,
				"restaurant_id":           id.RestaurantID,
				"person_name":             id.PersonName,
				"restaurant_name":         id.RestaurantName,
				"has_procurement_account": id.Known && !id.OnboardingComplete,
			}, nil
		})
}
