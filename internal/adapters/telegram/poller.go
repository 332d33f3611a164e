package telegramadapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/frepi-finance/internal/infrastructure/telegram"
)

// UpdateSource is the long-polling half of the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

type PollerOptions struct {
	Timeout    time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Poller feeds getUpdates results into the bot queue.
type Poller struct {
	source UpdateSource
	bot    *Bot
	opts   PollerOptions
}

func NewPoller(source UpdateSource, bot *Bot, opts PollerOptions) *Poller {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{source: source, bot: bot, opts: opts}
}

// Run polls until ctx is canceled. Updates that do not fit in the bot queue
// are retried on the next poll by holding the offset back.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	backoff := p.opts.MinBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.opts.Logger.Warn("telegram_poll_failed", "offset", offset, "backoff", backoff.String(), "error", err)
			if !sleepContext(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, p.opts.MaxBackoff)
			continue
		}
		backoff = p.opts.MinBackoff

		for _, update := range updates {
			if !p.bot.Enqueue(update) {
				p.opts.Logger.Warn("telegram_queue_full", "update_id", update.UpdateID)
				if !sleepContext(ctx, p.opts.MinBackoff) {
					return nil
				}
				break
			}
			offset = update.UpdateID + 1
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
