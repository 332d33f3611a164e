package domain

import "time"

// Layer numbers of the composed system prompt, in concatenation order.
const (
	LayerSoul        = 0
	LayerUserMemory  = 1
	LayerSkill       = 2
	LayerDBContext   = 3
	LayerDripContext = 4
)

const (
	LayerNameSoul        = "soul"
	LayerNameUserMemory  = "user_memory"
	LayerNameDBContext   = "db_context"
	LayerNameDripContext = "drip_context"
)

// PromptTokenBudget is the ceiling for the summed layer token estimates.
const PromptTokenBudget = 4000

// SkillLayerName returns the layer name used for the skill of an intent.
func SkillLayerName(intent Intent) string {
	return "skill_" + string(intent)
}

// PromptLayer is one named fragment of the system prompt.
type PromptLayer struct {
	Name          string `json:"name"`
	Layer         int    `json:"layer"`
	Content       string `json:"-"`
	TokenEstimate int    `json:"token_estimate"`
}

// LayerSummary is the audit view of a layer, without its content.
type LayerSummary struct {
	Name          string `json:"name"`
	Layer         int    `json:"layer"`
	TokenEstimate int    `json:"token_estimate"`
}

// ComposedPrompt is the assembled system message for one turn.
// It is a value: callers must not mutate Layers.
type ComposedPrompt struct {
	SystemMessage    string
	Layers           []PromptLayer
	Intent           Intent
	IntentConfidence float64
	BaseVersion      string
	TotalTokens      int
	Fingerprint      string
	DroppedDBContext bool
	Duration         time.Duration
}

func (p ComposedPrompt) HasLayer(name string) bool {
	for _, layer := range p.Layers {
		if layer.Name == name {
			return true
		}
	}
	return false
}

func (p ComposedPrompt) LayerNames() []string {
	out := make([]string, 0, len(p.Layers))
	for _, layer := range p.Layers {
		out = append(out, layer.Name)
	}
	return out
}

func (p ComposedPrompt) Summaries() []LayerSummary {
	out := make([]LayerSummary, 0, len(p.Layers))
	for _, layer := range p.Layers {
		out = append(out, LayerSummary{Name: layer.Name, Layer: layer.Layer, TokenEstimate: layer.TokenEstimate})
	}
	return out
}

// PromptLibrary holds the fixed prompt texts: the persona and one skill per intent.
type PromptLibrary struct {
	SoulVersion string
	Soul        string
	Skills      map[Intent]string
	Heartbeat   string
}

func (l PromptLibrary) Skill(intent Intent) (string, bool) {
	text, ok := l.Skills[intent]
	if !ok || text == "" {
		return "", false
	}
	return text, true
}
