package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	PreferenceBrand    = "brand"
	PreferencePriceMax = "price_max"
	PreferenceQuality  = "quality"

	queueStatusPending   = "pending"
	queueStatusAskedDrip = "asked_drip"
	queueStatusCollected = "collected"
	queueStatusSkipped   = "skipped"
)

var defaultPendingPreferences = []string{PreferenceBrand, PreferencePriceMax, PreferenceQuality}

// DripQuestion is one preference question surfaced during a normal session.
type DripQuestion struct {
	ProductName    string
	MasterListID   int64
	PreferenceType string
	QueuePosition  int
	ImportanceTier string
	KnownInfo      map[string]any
}

// DripService selects preference questions from the collection queue
// according to the restaurant's engagement level.
type DripService struct {
	store ports.Store
	now   func() time.Time
}

func NewDripService(store ports.Store) *DripService {
	return &DripService{store: store, now: time.Now}
}

// Questions returns this session's drip questions and marks them as asked.
func (s *DripService) Questions(ctx context.Context, restaurantID int64) ([]DripQuestion, error) {
	profile, err := s.store.FetchOne(ctx, domain.TableEngagementProfile, domain.Where(domain.Eq("restaurant_id", restaurantID)))
	if err != nil {
		return nil, fmt.Errorf("fetch engagement profile: %w", err)
	}
	if profile == nil {
		return nil, nil
	}
	level := profile.String("engagement_level")
	if level == "" {
		level = EngagementLow
	}
	perSession := profile.Int("drip_questions_per_session")
	if perSession == 0 || level == EngagementLow || level == EngagementDormant {
		return nil, nil
	}

	tiers := []any{"head"}
	if level == EngagementHigh {
		tiers = append(tiers, "mid_tail")
	}
	items, err := s.store.FetchMany(ctx, domain.TablePreferenceQueue,
		domain.Where(
			domain.Eq("restaurant_id", restaurantID),
			domain.In("preference_status", queueStatusPending, queueStatusAskedDrip),
			domain.In("importance_tier", tiers...),
		).OrderBy("queue_position", false).WithLimit(perSession))
	if err != nil {
		return nil, fmt.Errorf("fetch preference queue: %w", err)
	}

	var questions []DripQuestion
	for _, item := range items {
		masterID := item.Int64("master_list_id")
		product, err := s.store.FetchOne(ctx, domain.TableMasterList, domain.Where(domain.Eq("id", masterID)))
		if err != nil {
			return nil, fmt.Errorf("fetch product: %w", err)
		}
		if product == nil {
			continue
		}

		known := map[string]any{}
		prefs, err := s.store.FetchOne(ctx, domain.TableProductPreferences, domain.Where(
			domain.Eq("restaurant_id", restaurantID),
			domain.Eq("master_list_id", masterID),
		))
		if err != nil {
			return nil, fmt.Errorf("fetch product preferences: %w", err)
		}
		if prefs != nil {
			if v, ok := prefs["brand_preferences"]; ok && v != nil {
				known[PreferenceBrand] = v
			}
			if v, ok := prefs["price_preference"]; ok && v != nil {
				known[PreferencePriceMax] = v
			}
		}

		pending := item.StringSlice("preferences_pending")
		if len(pending) == 0 {
			pending = defaultPendingPreferences
		}

		questions = append(questions, DripQuestion{
			ProductName:    product.String("product_name"),
			MasterListID:   masterID,
			PreferenceType: pending[0],
			QueuePosition:  item.Int("queue_position"),
			ImportanceTier: item.String("importance_tier"),
			KnownInfo:      known,
		})

		_, err = s.store.Update(ctx, domain.TablePreferenceQueue,
			[]domain.Filter{domain.Eq("id", item["id"])},
			domain.Record{
				"preference_status": queueStatusAskedDrip,
				"asked_count":       item.Int("asked_count") + 1,
				"last_asked_at":     s.now().UTC(),
			})
		if err != nil {
			return nil, fmt.Errorf("mark drip question asked: %w", err)
		}
	}
	return questions, nil
}

// FormatDripContext renders questions as the drip prompt layer.
func FormatDripContext(questions []DripQuestion) string {
	if len(questions) == 0 {
		return ""
	}
	lines := []string{
		"## Perguntas de Preferência (Drip)",
		"Naturalmente, durante a conversa, pergunte sobre:",
	}
	for _, q := range questions {
		switch q.PreferenceType {
		case PreferenceBrand:
			lines = append(lines, fmt.Sprintf("- **%s**: Tem marca preferida?", q.ProductName))
		case PreferencePriceMax:
			lines = append(lines, fmt.Sprintf("- **%s**: Qual preço máximo aceitável?", q.ProductName))
		case PreferenceQuality:
			lines = append(lines, fmt.Sprintf("- **%s**: Prefere premium, padrão ou econômico?", q.ProductName))
		}
	}
	lines = append(lines, "\nUse `answer_drip_question` para salvar cada resposta. Se o usuário ignorar, tudo bem.")
	return strings.Join(lines, "\n")
}

// Context returns the formatted drip layer for a restaurant, or "".
func (s *DripService) Context(ctx context.Context, restaurantID int64) (string, error) {
	questions, err := s.Questions(ctx, restaurantID)
	if err != nil {
		return "", err
	}
	return FormatDripContext(questions), nil
}
