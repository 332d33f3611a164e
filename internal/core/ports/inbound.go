package ports

import (
	"context"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

// TurnHandler runs one inbound message through the agent loop.
type TurnHandler interface {
	HandleTurn(ctx context.Context, session *domain.Session, text string, hasPhoto bool) (domain.TurnResult, error)
}

// SessionStore hands out conversation sessions. The returned release func
// must be called when the turn ends; until then no other caller gets the
// same session.
type SessionStore interface {
	Acquire(ctx context.Context, chatID int64) (*domain.Session, func(), error)
	Reset(chatID int64)
}

// UserIdentifier resolves a chat id against the restaurant database.
type UserIdentifier interface {
	Identify(ctx context.Context, chatID int64) (domain.Identification, error)
}

// ToolDispatcher routes tool invocations to handlers.
type ToolDispatcher interface {
	Definitions() []domain.ToolDefinition
	Dispatch(ctx context.Context, call domain.ToolCall, session *domain.Session) string
}
