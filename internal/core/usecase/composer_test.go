package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func general() domain.IntentResult {
	return domain.IntentResult{Intent: domain.IntentGeneral, Confidence: 0.5}
}

func TestComposeSoulOnly(t *testing.T) {
	prompt := NewPromptComposer(testPromptLibrary()).Compose(general(), nil, "", "")

	if len(prompt.Layers) != 1 || prompt.Layers[0].Name != domain.LayerNameSoul {
		t.Fatalf("layers = %v, want [soul]", prompt.LayerNames())
	}
	if len(prompt.SystemMessage) <= 100 {
		t.Fatalf("system message too short: %q", prompt.SystemMessage)
	}
	if prompt.BaseVersion != "test-1" {
		t.Fatalf("base version = %q", prompt.BaseVersion)
	}
	if prompt.TotalTokens != prompt.Layers[0].TokenEstimate {
		t.Fatalf("total tokens = %d, want %d", prompt.TotalTokens, prompt.Layers[0].TokenEstimate)
	}
}

func TestComposeAllLayersInOrder(t *testing.T) {
	memory := &domain.UserMemory{RestaurantName: "Cantina", PersonName: "Ana", SavingsOpportunity: "desperdicio", CMVTarget: 30}
	intent := domain.IntentResult{Intent: domain.IntentCMVQuery, Confidence: 0.8}

	prompt := NewPromptComposer(testPromptLibrary()).Compose(intent, memory, "Ultimas NFs processadas:", "## Perguntas de Preferência (Drip)")

	want := []string{"soul", "user_memory", "skill_cmv_query", "db_context", "drip_context"}
	if strings.Join(prompt.LayerNames(), ",") != strings.Join(want, ",") {
		t.Fatalf("layers = %v, want %v", prompt.LayerNames(), want)
	}
	for i := 1; i < len(prompt.Layers); i++ {
		if prompt.Layers[i].Layer <= prompt.Layers[i-1].Layer {
			t.Fatalf("layer numbers not increasing: %+v", prompt.Summaries())
		}
	}
	if !strings.Contains(prompt.SystemMessage, "## Dados Recentes\nUltimas NFs processadas:") {
		t.Fatalf("db context heading missing: %q", prompt.SystemMessage)
	}
	if !strings.Contains(prompt.SystemMessage, "- Restaurante: Cantina\n- Contato: Ana\n- Oportunidade de economia identificada pelo dono: desperdicio\n- Meta de CMV: 30%") {
		t.Fatalf("memory layer not rendered: %q", prompt.SystemMessage)
	}
	if !strings.Contains(prompt.SystemMessage, "\n\n## Habilidade Ativa: Analise de CMV") {
		t.Fatalf("layers must be joined by a blank line: %q", prompt.SystemMessage)
	}
}

func TestComposeSkipsDripForOnboarding(t *testing.T) {
	intent := domain.IntentResult{Intent: domain.IntentOnboarding, Confidence: 1}
	prompt := NewPromptComposer(testPromptLibrary()).Compose(intent, nil, "", "pergunte sobre marcas")

	if prompt.HasLayer(domain.LayerNameDripContext) {
		t.Fatalf("drip layer must be skipped for onboarding: %v", prompt.LayerNames())
	}
	if !prompt.HasLayer("skill_onboarding") {
		t.Fatalf("onboarding skill missing: %v", prompt.LayerNames())
	}
}

func TestComposeOmitsEmptyMemoryHeading(t *testing.T) {
	memory := &domain.UserMemory{City: "Campinas", PriceSensitivity: "high"}
	prompt := NewPromptComposer(testPromptLibrary()).Compose(general(), memory, "", "")

	if prompt.HasLayer(domain.LayerNameUserMemory) {
		t.Fatalf("memory layer must be omitted without renderable fields")
	}
	if strings.Contains(prompt.SystemMessage, "Contexto do Restaurante") {
		t.Fatalf("empty heading emitted: %q", prompt.SystemMessage)
	}
}

func TestComposeFillsCMVTarget(t *testing.T) {
	intent := domain.IntentResult{Intent: domain.IntentMonthlyClosure, Confidence: 0.9}
	composer := NewPromptComposer(testPromptLibrary())

	if got := composer.Compose(intent, nil, "", ""); !strings.Contains(got.SystemMessage, "Alvo: 32%") {
		t.Fatalf("default target missing: %q", got.SystemMessage)
	}
	memory := &domain.UserMemory{CMVTarget: 28.5}
	if got := composer.Compose(intent, memory, "", ""); !strings.Contains(got.SystemMessage, "Alvo: 28.5%") {
		t.Fatalf("restaurant target missing: %q", got.SystemMessage)
	}
}

func TestComposeFingerprintIsStable(t *testing.T) {
	composer := NewPromptComposer(testPromptLibrary())
	a := composer.Compose(general(), nil, "ctx", "")
	b := composer.Compose(general(), nil, "ctx", "")
	c := composer.Compose(general(), nil, "ctx!", "")

	if a.Fingerprint != b.Fingerprint {
		t.Fatalf("identical input produced different fingerprints")
	}
	if a.Fingerprint == c.Fingerprint {
		t.Fatalf("changed input kept fingerprint %s", a.Fingerprint)
	}
	if len(a.Fingerprint) != 64 {
		t.Fatalf("fingerprint = %q, want sha256 hex", a.Fingerprint)
	}
}

func TestComposeDropsDBContextOverBudget(t *testing.T) {
	composer := NewPromptComposer(testPromptLibrary())
	big := longText(4 * domain.PromptTokenBudget)

	prompt := composer.Compose(general(), nil, big, "")

	if prompt.HasLayer(domain.LayerNameDBContext) {
		t.Fatalf("db_context must be dropped: %v", prompt.LayerNames())
	}
	if !prompt.DroppedDBContext {
		t.Fatalf("DroppedDBContext = false")
	}
	preDrop := estimateTokens(testPromptLibrary().Soul) + estimateTokens("## Dados Recentes\n"+big)
	if prompt.TotalTokens >= preDrop {
		t.Fatalf("total = %d, want < %d", prompt.TotalTokens, preDrop)
	}
	if strings.Contains(prompt.SystemMessage, big) {
		t.Fatalf("dropped content leaked into system message")
	}
}

func TestComposeTrimsOnlyOnce(t *testing.T) {
	composer := NewPromptComposer(testPromptLibrary())
	intent := domain.IntentResult{Intent: domain.IntentCMVQuery, Confidence: 0.8}

	prompt := composer.Compose(intent, nil, "recent", longText(5*domain.PromptTokenBudget))

	if prompt.HasLayer(domain.LayerNameDBContext) {
		t.Fatalf("db_context must be dropped")
	}
	if !prompt.HasLayer(domain.LayerNameDripContext) || !prompt.HasLayer("skill_cmv_query") {
		t.Fatalf("only db_context may be trimmed: %v", prompt.LayerNames())
	}
	if prompt.TotalTokens <= domain.PromptTokenBudget {
		t.Fatalf("total = %d, expected to stay over budget", prompt.TotalTokens)
	}
}

func TestComposeGeneralHasNoSkill(t *testing.T) {
	prompt := NewPromptComposer(testPromptLibrary()).Compose(general(), nil, "", "drip")
	for _, name := range prompt.LayerNames() {
		if strings.HasPrefix(name, "skill_") {
			t.Fatalf("general intent got skill layer %s", name)
		}
	}
	if !prompt.HasLayer(domain.LayerNameDripContext) {
		t.Fatalf("drip layer missing for general intent")
	}
}

func TestComposeKeepsWhitespaceOnlyContext(t *testing.T) {
	prompt := NewPromptComposer(testPromptLibrary()).Compose(general(), nil, " ", "\n")

	if !prompt.HasLayer(domain.LayerNameDBContext) || !prompt.HasLayer(domain.LayerNameDripContext) {
		t.Fatalf("non-empty context must produce layers: %v", prompt.LayerNames())
	}
}
