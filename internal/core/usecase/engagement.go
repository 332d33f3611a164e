package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	EngagementHigh    = "high"
	EngagementMedium  = "medium"
	EngagementLow     = "low"
	EngagementDormant = "dormant"
)

// EngagementSignals are the raw counters of an engagement profile.
type EngagementSignals struct {
	OnboardingDepth       int
	DripAnswered          int
	DripSkipped           int
	Corrections           int
	CorrectionsWithReason int
	SessionsLast30d       int
}

type EngagementScore struct {
	Score          float64 `json:"score"`
	Level          string  `json:"level"`
	DripPerSession int     `json:"drip_per_session"`
}

func depthSignal(depth int) float64 {
	switch depth {
	case 5:
		return 0.5
	case 10:
		return 1.0
	default:
		return 0
	}
}

// ScoreEngagement weighs onboarding depth, drip answers, corrections,
// session frequency and correction reasoning into a score in [0,1].
func ScoreEngagement(s EngagementSignals) EngagementScore {
	dripRate := 0.0
	if total := s.DripAnswered + s.DripSkipped; total > 0 {
		dripRate = float64(s.DripAnswered) / float64(total)
	}
	correction := math.Min(float64(s.Corrections)/5.0, 1.0)
	frequency := math.Min(float64(s.SessionsLast30d)/10.0, 1.0)
	reasoning := 0.0
	if s.Corrections > 0 {
		reasoning = float64(s.CorrectionsWithReason) / float64(s.Corrections)
	}

	score := round(
		0.15*depthSignal(s.OnboardingDepth)+
			0.30*dripRate+
			0.25*correction+
			0.15*frequency+
			0.15*reasoning,
		2,
	)
	score = math.Max(0, math.Min(1, score))

	level, drip := engagementLevel(score)
	return EngagementScore{Score: score, Level: level, DripPerSession: drip}
}

func engagementLevel(score float64) (string, int) {
	switch {
	case score >= 0.65:
		return EngagementHigh, 2
	case score >= 0.35:
		return EngagementMedium, 1
	case score >= 0.10:
		return EngagementLow, 0
	default:
		return EngagementDormant, 0
	}
}

func signalsFromProfile(profile domain.Record) EngagementSignals {
	return EngagementSignals{
		OnboardingDepth:       profile.Int("onboarding_depth"),
		DripAnswered:          profile.Int("drip_questions_answered"),
		DripSkipped:           profile.Int("drip_questions_skipped"),
		Corrections:           profile.Int("total_corrections"),
		CorrectionsWithReason: profile.Int("corrections_with_reason"),
		SessionsLast30d:       profile.Int("sessions_last_30d"),
	}
}

// EngagementService keeps engagement profiles current.
type EngagementService struct {
	store ports.Store
	now   func() time.Time
}

func NewEngagementService(store ports.Store) *EngagementService {
	return &EngagementService{store: store, now: time.Now}
}

func (s *EngagementService) profile(ctx context.Context, restaurantID int64) (domain.Record, error) {
	profile, err := s.store.FetchOne(ctx, domain.TableEngagementProfile, domain.Where(domain.Eq("restaurant_id", restaurantID)))
	if err != nil {
		return nil, fmt.Errorf("fetch engagement profile: %w", err)
	}
	return profile, nil
}

// Recalculate rescores the profile. It returns nil when the restaurant has no profile.
func (s *EngagementService) Recalculate(ctx context.Context, restaurantID int64) (*EngagementScore, error) {
	profile, err := s.profile(ctx, restaurantID)
	if err != nil || profile == nil {
		return nil, err
	}
	score := ScoreEngagement(signalsFromProfile(profile))
	_, err = s.store.Update(ctx, domain.TableEngagementProfile,
		[]domain.Filter{domain.Eq("restaurant_id", restaurantID)},
		domain.Record{
			"engagement_score":           score.Score,
			"engagement_level":           score.Level,
			"drip_questions_per_session": score.DripPerSession,
		})
	if err != nil {
		return nil, fmt.Errorf("update engagement profile: %w", err)
	}
	return &score, nil
}

// SaveOnboardingChoice creates or updates the profile from the onboarding
// engagement question (1 = top 5, 2 = top 10, 3 = skip).
func (s *EngagementService) SaveOnboardingChoice(ctx context.Context, restaurantID int64, choice int) (EngagementScore, error) {
	depth := map[int]int{1: 5, 2: 10, 3: 0}[choice]
	score := ScoreEngagement(EngagementSignals{OnboardingDepth: depth})
	patch := domain.Record{
		"onboarding_depth":           depth,
		"engagement_score":           score.Score,
		"engagement_level":           score.Level,
		"drip_questions_per_session": score.DripPerSession,
	}

	profile, err := s.profile(ctx, restaurantID)
	if err != nil {
		return EngagementScore{}, err
	}
	if profile != nil {
		_, err = s.store.Update(ctx, domain.TableEngagementProfile, []domain.Filter{domain.Eq("restaurant_id", restaurantID)}, patch)
	} else {
		patch["restaurant_id"] = restaurantID
		_, err = s.store.Insert(ctx, domain.TableEngagementProfile, patch)
	}
	if err != nil {
		return EngagementScore{}, fmt.Errorf("save engagement profile: %w", err)
	}
	return score, nil
}

// RecordDripAnswer bumps the answered or skipped counter and the asked counter.
func (s *EngagementService) RecordDripAnswer(ctx context.Context, restaurantID int64, skipped bool) (domain.Record, error) {
	profile, err := s.profile(ctx, restaurantID)
	if err != nil || profile == nil {
		return profile, err
	}
	patch := domain.Record{"drip_questions_asked": profile.Int("drip_questions_asked") + 1}
	if skipped {
		patch["drip_questions_skipped"] = profile.Int("drip_questions_skipped") + 1
	} else {
		patch["drip_questions_answered"] = profile.Int("drip_questions_answered") + 1
	}
	if _, err := s.store.Update(ctx, domain.TableEngagementProfile, []domain.Filter{domain.Eq("restaurant_id", restaurantID)}, patch); err != nil {
		return nil, fmt.Errorf("update drip counters: %w", err)
	}
	return profile, nil
}

// RecordCorrection bumps the correction counters.
func (s *EngagementService) RecordCorrection(ctx context.Context, restaurantID int64, withReason bool) error {
	profile, err := s.profile(ctx, restaurantID)
	if err != nil || profile == nil {
		return err
	}
	patch := domain.Record{"total_corrections": profile.Int("total_corrections") + 1}
	if withReason {
		patch["corrections_with_reason"] = profile.Int("corrections_with_reason") + 1
	}
	if _, err := s.store.Update(ctx, domain.TableEngagementProfile, []domain.Filter{domain.Eq("restaurant_id", restaurantID)}, patch); err != nil {
		return fmt.Errorf("update correction counters: %w", err)
	}
	return nil
}

// IncrementSessionCount records a new conversation session.
func (s *EngagementService) IncrementSessionCount(ctx context.Context, restaurantID int64) error {
	profile, err := s.profile(ctx, restaurantID)
	if err != nil || profile == nil {
		return err
	}
	_, err = s.store.Update(ctx, domain.TableEngagementProfile,
		[]domain.Filter{domain.Eq("restaurant_id", restaurantID)},
		domain.Record{
			"sessions_last_30d": profile.Int("sessions_last_30d") + 1,
			"last_session_at":   s.now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("increment session count: %w", err)
	}
	return nil
}
