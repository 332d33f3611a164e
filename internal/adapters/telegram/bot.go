package telegramadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/telegram"
)

const (
	replyGenericError = "❌ Desculpe, ocorreu um erro. Por favor, tente novamente."
	replyPhotoError   = "❌ Erro ao processar a foto. Tente novamente."
	replyCleared      = "✅ Histórico limpo! Pode começar uma nova conversa."
	onboardingKickoff = "Olá, quero me cadastrar"
	flushKeyword      = "pronto"
	chatActionTyping  = "typing"
)

// Messenger is the slice of the Bot API the update handler needs.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	MediaURL(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	Workers     int
	QueueSize   int
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Bot turns Telegram updates into agent turns and replies.
type Bot struct {
	messenger  Messenger
	sessions   ports.SessionStore
	turns      ports.TurnHandler
	identifier ports.UserIdentifier
	logger     *slog.Logger

	turnTimeout time.Duration
	// shards holds one FIFO per worker. A chat always maps to the same
	// shard, so its updates are handled one at a time in arrival order.
	shards []chan telegram.Update
}

func New(
	messenger Messenger,
	sessions ports.SessionStore,
	turns ports.TurnHandler,
	identifier ports.UserIdentifier,
	opts Options,
) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 3 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	shardSize := max(opts.QueueSize/opts.Workers, 1)
	shards := make([]chan telegram.Update, opts.Workers)
	for i := range shards {
		shards[i] = make(chan telegram.Update, shardSize)
	}
	return &Bot{
		messenger:   messenger,
		sessions:    sessions,
		turns:       turns,
		identifier:  identifier,
		logger:      opts.Logger,
		turnTimeout: opts.TurnTimeout,
		shards:      shards,
	}
}

func (b *Bot) shardFor(update telegram.Update) chan telegram.Update {
	if update.Message == nil {
		return b.shards[0]
	}
	chatID := update.Message.Chat.ID
	if chatID < 0 {
		chatID = -chatID
	}
	return b.shards[chatID%int64(len(b.shards))]
}

// pending counts updates waiting in every shard.
func (b *Bot) pending() int {
	n := 0
	for _, shard := range b.shards {
		n += len(shard)
	}
	return n
}

// Enqueue hands an update to the worker owning its chat. It reports false
// when that worker's queue is full.
func (b *Bot) Enqueue(update telegram.Update) bool {
	select {
	case b.shardFor(update) <- update:
		return true
	default:
		return false
	}
}

// Run processes queued updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, shard := range b.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update := <-shard:
					b.process(ctx, update)
				}
			}
		}()
	}
	wg.Wait()
}

func (b *Bot) process(ctx context.Context, update telegram.Update) {
	turnCtx, cancel := context.WithTimeout(ctx, b.turnTimeout)
	defer cancel()
	if err := b.HandleUpdate(turnCtx, update); err != nil {
		b.logger.Error("telegram_update_failed", "update_id", update.UpdateID, "error", err)
	}
}

// HandleUpdate routes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update telegram.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}
	chatID := msg.Chat.ID

	if photo, ok := msg.LargestPhoto(); ok {
		return b.handleUpload(ctx, chatID, photo.FileID)
	}
	if msg.Document != nil && isPDF(msg.Document) {
		return b.handleUpload(ctx, chatID, msg.Document.FileID)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if command, ok := parseCommand(text); ok {
		switch command {
		case "start":
			return b.handleStart(ctx, chatID)
		case "help", "ajuda":
			return b.messenger.SendText(ctx, chatID, helpText)
		case "limpar", "clear":
			return b.handleClear(ctx, chatID)
		default:
			return nil
		}
	}
	return b.handleText(ctx, chatID, text)
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) error {
	b.sessions.Reset(chatID)
	session, release, err := b.sessions.Acquire(ctx, chatID)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer release()

	var id domain.Identification
	if b.identifier != nil {
		id, err = b.identifier.Identify(ctx, chatID)
		if err != nil {
			b.logger.Warn("context_fetch_failed", "source", "identity", "chat_id", chatID, "error", err)
		}
	}
	session.ApplyIdentification(id)
	if !id.OnboardingComplete {
		session.IsNewUser = true
	}

	if err := b.messenger.SendText(ctx, chatID, welcomeText(id)); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	if !session.IsNewUser {
		return nil
	}
	return b.runTurn(ctx, session, onboardingKickoff, false)
}

func (b *Bot) handleClear(ctx context.Context, chatID int64) error {
	session, release, err := b.sessions.Acquire(ctx, chatID)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	session.ClearConversation()
	release()
	return b.messenger.SendText(ctx, chatID, replyCleared)
}

func (b *Bot) handleUpload(ctx context.Context, chatID int64, fileID string) error {
	url, err := b.messenger.MediaURL(ctx, fileID)
	if err != nil {
		b.logger.Error("telegram_photo_failed", "chat_id", chatID, "error", err)
		return b.messenger.SendText(ctx, chatID, replyPhotoError)
	}

	session, release, err := b.sessions.Acquire(ctx, chatID)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	count := session.AddPhoto(url)
	release()

	return b.messenger.SendText(ctx, chatID, fmt.Sprintf(
		"📸 Foto %d recebida!\n\nEnvie mais fotos ou digite **\"pronto\"** quando terminar.", count))
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) error {
	session, release, err := b.sessions.Acquire(ctx, chatID)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer release()

	if strings.EqualFold(text, flushKeyword) && len(session.UploadedPhotos) > 0 {
		photos := session.TakePhotos()
		message := fmt.Sprintf("Processar %d notas fiscais: %s", len(photos), strings.Join(photos, ", "))
		return b.runTurn(ctx, session, message, true)
	}
	return b.runTurn(ctx, session, text, false)
}

func (b *Bot) runTurn(ctx context.Context, session *domain.Session, text string, hasPhoto bool) error {
	if err := b.messenger.SendChatAction(ctx, session.ChatID, chatActionTyping); err != nil {
		b.logger.Debug("telegram_chat_action_failed", "chat_id", session.ChatID, "error", err)
	}

	result, err := b.turns.HandleTurn(ctx, session, text, hasPhoto)
	if err != nil {
		b.logger.Error("telegram_turn_failed", "chat_id", session.ChatID, "error", err)
		return b.messenger.SendText(ctx, session.ChatID, replyGenericError)
	}
	if strings.TrimSpace(result.Reply) == "" {
		return nil
	}
	return b.messenger.SendText(ctx, session.ChatID, result.Reply)
}

// parseCommand extracts "start" from "/start" or "/start@frepi_bot args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	command := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	return strings.ToLower(command), true
}

func isPDF(doc *telegram.Document) bool {
	return strings.EqualFold(doc.MimeType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(doc.FileName), ".pdf")
}
