package usecase

import (
	"context"
	"testing"
)

func TestScoreEngagementLevels(t *testing.T) {
	tests := []struct {
		name    string
		signals EngagementSignals
		level   string
		drip    int
	}{
		{name: "empty", signals: EngagementSignals{}, level: EngagementDormant, drip: 0},
		{name: "top ten only", signals: EngagementSignals{OnboardingDepth: 10}, level: EngagementLow, drip: 0},
		{name: "answers drip", signals: EngagementSignals{OnboardingDepth: 10, DripAnswered: 3}, level: EngagementMedium, drip: 1},
		{
			name: "fully engaged",
			signals: EngagementSignals{
				OnboardingDepth: 10, DripAnswered: 4, Corrections: 5,
				CorrectionsWithReason: 5, SessionsLast30d: 12,
			},
			level: EngagementHigh,
			drip:  2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreEngagement(tc.signals)
			if got.Level != tc.level || got.DripPerSession != tc.drip {
				t.Fatalf("ScoreEngagement() = %+v, want level %s drip %d", got, tc.level, tc.drip)
			}
			if got.Score < 0 || got.Score > 1 {
				t.Fatalf("score out of range: %v", got.Score)
			}
		})
	}
}

func TestScoreEngagementFullSignalsIsOne(t *testing.T) {
	got := ScoreEngagement(EngagementSignals{
		OnboardingDepth: 10, DripAnswered: 2, Corrections: 8,
		CorrectionsWithReason: 8, SessionsLast30d: 30,
	})
	if got.Score != 1 {
		t.Fatalf("score = %v, want 1", got.Score)
	}
}

func TestEngagementSaveOnboardingChoiceUpserts(t *testing.T) {
	store := newMemStore()
	svc := NewEngagementService(store)
	ctx := context.Background()

	score, err := svc.SaveOnboardingChoice(ctx, 9, 2)
	if err != nil {
		t.Fatalf("SaveOnboardingChoice() error = %v", err)
	}
	if score.Level != EngagementLow {
		t.Fatalf("level = %s, want low", score.Level)
	}
	if _, err := svc.SaveOnboardingChoice(ctx, 9, 3); err != nil {
		t.Fatalf("SaveOnboardingChoice() error = %v", err)
	}

	rows := store.rows("engagement_profile")
	if len(rows) != 1 {
		t.Fatalf("expected a single profile, got %d", len(rows))
	}
	if rows[0].Int("onboarding_depth") != 0 {
		t.Fatalf("depth = %d, want 0 after skip", rows[0].Int("onboarding_depth"))
	}
}

func TestEngagementCountersAndRecalculate(t *testing.T) {
	store := newMemStore()
	store.seed("engagement_profile", map[string]any{"restaurant_id": int64(3), "onboarding_depth": 10})
	svc := NewEngagementService(store)
	ctx := context.Background()

	if _, err := svc.RecordDripAnswer(ctx, 3, false); err != nil {
		t.Fatalf("RecordDripAnswer() error = %v", err)
	}
	if _, err := svc.RecordDripAnswer(ctx, 3, true); err != nil {
		t.Fatalf("RecordDripAnswer() error = %v", err)
	}
	if err := svc.RecordCorrection(ctx, 3, true); err != nil {
		t.Fatalf("RecordCorrection() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.IncrementSessionCount(ctx, 3); err != nil {
			t.Fatalf("IncrementSessionCount() error = %v", err)
		}
	}

	score, err := svc.Recalculate(ctx, 3)
	if err != nil || score == nil {
		t.Fatalf("Recalculate() = %v, %v", score, err)
	}
	// 0.15 + 0.30*0.5 + 0.25*0.2 + 0.15*0.2 + 0.15*1
	if score.Score != 0.53 || score.Level != EngagementMedium {
		t.Fatalf("score = %+v, want 0.53 medium", score)
	}

	profile := store.rows("engagement_profile")[0]
	if profile.Int("drip_questions_asked") != 2 || profile.Int("drip_questions_skipped") != 1 {
		t.Fatalf("unexpected counters: %v", profile)
	}
	if profile.String("engagement_level") != EngagementMedium {
		t.Fatalf("level not persisted: %v", profile)
	}
}

func TestEngagementRecalculateWithoutProfile(t *testing.T) {
	score, err := NewEngagementService(newMemStore()).Recalculate(context.Background(), 1)
	if err != nil || score != nil {
		t.Fatalf("Recalculate() = %v, %v; want nil, nil", score, err)
	}
}
