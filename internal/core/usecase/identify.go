package usecase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	onboardingStatusInProgress = "in_progress"
	onboardingStatusCompleted  = "completed"
)

// StoreIdentifier resolves chat ids against the finance onboarding records
// and the procurement contacts shared with the other bot.
type StoreIdentifier struct {
	store ports.Store
}

func NewStoreIdentifier(store ports.Store) *StoreIdentifier {
	return &StoreIdentifier{store: store}
}

func (i *StoreIdentifier) Identify(ctx context.Context, chatID int64) (domain.Identification, error) {
	completed, err := i.store.FetchOne(ctx, domain.TableFinanceOnboarding,
		domain.Where(
			domain.Eq("telegram_chat_id", chatID),
			domain.Eq("status", onboardingStatusCompleted),
		).OrderBy("completed_at", true))
	if err != nil {
		return domain.Identification{}, fmt.Errorf("fetch completed onboarding: %w", err)
	}
	if completed != nil {
		return domain.Identification{
			Known:              true,
			OnboardingComplete: true,
			RestaurantID:       completed.Int64("restaurant_id"),
			PersonID:           completed.Int64("person_id"),
			PersonName:         completed.String("person_name"),
			RestaurantName:     completed.String("restaurant_name"),
			Source:             domain.IdentifiedByOnboarding,
		}, nil
	}

	inProgress, err := i.store.FetchOne(ctx, domain.TableFinanceOnboarding, domain.Where(
		domain.Eq("telegram_chat_id", chatID),
		domain.Eq("status", onboardingStatusInProgress),
	))
	if err != nil {
		return domain.Identification{}, fmt.Errorf("fetch onboarding in progress: %w", err)
	}
	if inProgress != nil {
		return domain.Identification{
			Known:          true,
			RestaurantID:   inProgress.Int64("restaurant_id"),
			PersonName:     inProgress.String("person_name"),
			RestaurantName: inProgress.String("restaurant_name"),
			Source:         domain.IdentifiedByOnboarding,
		}, nil
	}

	person, err := i.store.FetchOne(ctx, domain.TableRestaurantPeople, domain.Where(
		domain.Eq("whatsapp_number", strconv.FormatInt(chatID, 10)),
		domain.Eq("is_active", true),
	))
	if err != nil {
		return domain.Identification{}, fmt.Errorf("fetch restaurant person: %w", err)
	}
	if person != nil {
		name := person.String("first_name")
		if name == "" {
			name = person.String("full_name")
		}
		return domain.Identification{
			Known:        true,
			RestaurantID: person.Int64("restaurant_id"),
			PersonID:     person.Int64("id"),
			PersonName:   name,
			Source:       domain.IdentifiedByProcurement,
		}, nil
	}

	return domain.Identification{}, nil
}
