package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

//go:embed prompts.yaml
var embedded []byte

type document struct {
	Soul struct {
		Version string `yaml:"version"`
		Text    string `yaml:"text"`
	} `yaml:"soul"`
	Skills    map[string]string `yaml:"skills"`
	Heartbeat string            `yaml:"heartbeat"`
}

// Default returns the prompt library compiled into the binary.
func Default() (domain.PromptLibrary, error) {
	return Parse(embedded)
}

// Load reads a prompt library from path, or the embedded one when path is empty.
func Load(path string) (domain.PromptLibrary, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PromptLibrary{}, fmt.Errorf("read prompts file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (domain.PromptLibrary, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.PromptLibrary{}, fmt.Errorf("decode prompts: %w", err)
	}
	if strings.TrimSpace(doc.Soul.Text) == "" {
		return domain.PromptLibrary{}, errors.New("prompts: soul text is required")
	}
	if strings.TrimSpace(doc.Soul.Version) == "" {
		return domain.PromptLibrary{}, errors.New("prompts: soul version is required")
	}

	skills := make(map[domain.Intent]string, len(doc.Skills))
	for label, text := range doc.Skills {
		intent := domain.ParseIntent(label)
		if intent == domain.IntentGeneral {
			return domain.PromptLibrary{}, fmt.Errorf("prompts: unknown skill %q", label)
		}
		skills[intent] = strings.TrimSpace(text)
	}

	return domain.PromptLibrary{
		SoulVersion: doc.Soul.Version,
		Soul:        strings.TrimSpace(doc.Soul.Text),
		Skills:      skills,
		Heartbeat:   strings.TrimSpace(doc.Heartbeat),
	}, nil
}
