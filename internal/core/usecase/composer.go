package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const (
	defaultCMVTarget     = 32.0
	cmvTargetPlaceholder = "{cmv_target}"
	layerSeparator       = "\n\n"
)

// PromptComposer assembles the layered system prompt for a turn.
type PromptComposer struct {
	library domain.PromptLibrary
	budget  int
	now     func() time.Time
}

func NewPromptComposer(library domain.PromptLibrary) *PromptComposer {
	return &PromptComposer{
		library: library,
		budget:  domain.PromptTokenBudget,
		now:     time.Now,
	}
}

func (c *PromptComposer) SoulVersion() string {
	return c.library.SoulVersion
}

// Compose never fails; absent inputs just produce fewer layers.
func (c *PromptComposer) Compose(intent domain.IntentResult, memory *domain.UserMemory, dbContext, dripContext string) domain.ComposedPrompt {
	started := c.now()

	layers := make([]domain.PromptLayer, 0, 5)
	layers = append(layers, newLayer(domain.LayerNameSoul, domain.LayerSoul, c.library.Soul))

	if content := renderUserMemory(memory); content != "" {
		layers = append(layers, newLayer(domain.LayerNameUserMemory, domain.LayerUserMemory, content))
	}

	if skill, ok := c.library.Skill(intent.Intent); ok {
		skill = strings.ReplaceAll(skill, cmvTargetPlaceholder, formatTarget(memory))
		layers = append(layers, newLayer(domain.SkillLayerName(intent.Intent), domain.LayerSkill, skill))
	}

	if dbContext != "" {
		layers = append(layers, newLayer(domain.LayerNameDBContext, domain.LayerDBContext, "## Dados Recentes\n"+dbContext))
	}

	if dripContext != "" && intent.Intent != domain.IntentOnboarding {
		layers = append(layers, newLayer(domain.LayerNameDripContext, domain.LayerDripContext, dripContext))
	}

	total := sumTokens(layers)
	dropped := false
	if total > c.budget {
		kept := layers[:0:0]
		for _, layer := range layers {
			if layer.Name == domain.LayerNameDBContext {
				dropped = true
				continue
			}
			kept = append(kept, layer)
		}
		layers = kept
		total = sumTokens(layers)
	}

	parts := make([]string, 0, len(layers))
	for _, layer := range layers {
		parts = append(parts, layer.Content)
	}
	system := strings.Join(parts, layerSeparator)

	return domain.ComposedPrompt{
		SystemMessage:    system,
		Layers:           layers,
		Intent:           intent.Intent,
		IntentConfidence: intent.Confidence,
		BaseVersion:      c.library.SoulVersion,
		TotalTokens:      total,
		Fingerprint:      fingerprint(system),
		DroppedDBContext: dropped,
		Duration:         c.now().Sub(started),
	}
}

func newLayer(name string, number int, content string) domain.PromptLayer {
	return domain.PromptLayer{
		Name:          name,
		Layer:         number,
		Content:       content,
		TokenEstimate: estimateTokens(content),
	}
}

// estimateTokens approximates four characters per token.
func estimateTokens(content string) int {
	return utf8.RuneCountInString(content) / 4
}

func sumTokens(layers []domain.PromptLayer) int {
	total := 0
	for _, layer := range layers {
		total += layer.TokenEstimate
	}
	return total
}

func fingerprint(system string) string {
	sum := sha256.Sum256([]byte(system))
	return hex.EncodeToString(sum[:])
}

func renderUserMemory(memory *domain.UserMemory) string {
	if memory == nil {
		return ""
	}
	lines := make([]string, 0, 4)
	if memory.RestaurantName != "" {
		lines = append(lines, "Restaurante: "+memory.RestaurantName)
	}
	if memory.PersonName != "" {
		lines = append(lines, "Contato: "+memory.PersonName)
	}
	if memory.SavingsOpportunity != "" {
		lines = append(lines, "Oportunidade de economia identificada pelo dono: "+memory.SavingsOpportunity)
	}
	if memory.CMVTarget > 0 {
		lines = append(lines, "Meta de CMV: "+formatNumber(memory.CMVTarget)+"%")
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Contexto do Restaurante")
	for _, line := range lines {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}

func formatTarget(memory *domain.UserMemory) string {
	if memory != nil && memory.CMVTarget > 0 {
		return formatNumber(memory.CMVTarget)
	}
	return formatNumber(defaultCMVTarget)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
