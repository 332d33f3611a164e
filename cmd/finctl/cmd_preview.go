package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/usecase"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/prompts"
)

type previewFlags struct {
	photo   bool
	newUser bool
}

func (f *previewFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.photo, "photo", false, "treat the message as carrying a photo")
	cmd.Flags().BoolVar(&f.newUser, "new-user", false, "treat the sender as not onboarded")
}

func newClassifyCmd() *cobra.Command {
	var flags previewFlags
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Show the intent detected for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := usecase.NewIntentClassifier().Classify(strings.Join(args, " "), flags.photo, flags.newUser)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent:     %s\n", result.Intent)
			fmt.Fprintf(out, "confidence: %.2f\n", result.Confidence)
			if result.Trigger != "" {
				fmt.Fprintf(out, "trigger:    %s\n", result.Trigger)
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newComposeCmd() *cobra.Command {
	var flags previewFlags
	var promptsPath string
	var dbContext string
	var showPrompt bool
	cmd := &cobra.Command{
		Use:   "compose <message>",
		Short: "Preview the system prompt composed for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			library, err := prompts.Load(promptsPath)
			if err != nil {
				return fmt.Errorf("load prompts: %w", err)
			}
			intent := usecase.NewIntentClassifier().Classify(strings.Join(args, " "), flags.photo, flags.newUser)
			prompt := usecase.NewPromptComposer(library).Compose(intent, nil, dbContext, "")
			writeComposition(cmd, prompt, showPrompt)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&promptsPath, "prompts", "", "prompt library YAML (default: embedded)")
	cmd.Flags().StringVar(&dbContext, "db-context", "", "recent-context text to inject")
	cmd.Flags().BoolVar(&showPrompt, "show", false, "print the full system message")
	return cmd
}

func writeComposition(cmd *cobra.Command, prompt domain.ComposedPrompt, showPrompt bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "intent:      %s (%.2f)\n", prompt.Intent, prompt.IntentConfidence)
	fmt.Fprintf(out, "version:     %s\n", prompt.BaseVersion)
	fmt.Fprintf(out, "tokens:      %d\n", prompt.TotalTokens)
	fmt.Fprintf(out, "fingerprint: %s\n", prompt.Fingerprint)
	if prompt.DroppedDBContext {
		fmt.Fprintln(out, "db_context dropped by the token budget")
	}
	fmt.Fprintln(out, "layers:")
	for _, layer := range prompt.Layers {
		fmt.Fprintf(out, "  %d %-16s %5d tokens\n", layer.Layer, layer.Name, layer.TokenEstimate)
	}
	if showPrompt {
		fmt.Fprintln(out)
		fmt.Fprintln(out, prompt.SystemMessage)
	}
}
