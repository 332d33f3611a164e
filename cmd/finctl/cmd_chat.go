package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/frepi-finance/internal/bootstrap"
	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/observability/logging"
)

func newChatCmd() *cobra.Command {
	var chatID int64
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long: `Reads one message per line and prints the agent reply.
"/limpar" clears the conversation, "/sair" or EOF ends the session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := config.Load()
			cfg.TelegramMode = config.TelegramModeOff
			if err := cfg.Validate(); err != nil {
				return err
			}
			app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
				Logger: logging.New(cmd.ErrOrStderr(), "finctl", cfg.LogLevel),
			})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			return runChat(ctx, cmd, app, chatID)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat-id", 1, "conversation id used for identification")
	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, chatID int64) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/sair", "/exit":
			return nil
		case "/limpar", "/clear":
			session, release, err := app.Sessions.Acquire(ctx, chatID)
			if err != nil {
				return err
			}
			session.ClearConversation()
			release()
			fmt.Fprintln(out, "histórico limpo")
			continue
		}

		session, release, err := app.Sessions.Acquire(ctx, chatID)
		if err != nil {
			return err
		}
		result, err := app.Agent.HandleTurn(ctx, session, line, false)
		release()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "[%s %.2f, %d iterations]\n%s\n\n",
			result.Intent.Intent, result.Intent.Confidence, result.Iterations, result.Reply)
	}
}
