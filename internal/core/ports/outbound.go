package ports

import (
	"context"
	"io"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

// Store is the generic CRUD boundary of the restaurant database.
// FetchOne returns a nil record when nothing matches.
type Store interface {
	FetchOne(ctx context.Context, table string, query domain.Query) (domain.Record, error)
	FetchMany(ctx context.Context, table string, query domain.Query) ([]domain.Record, error)
	Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error)
	// Update patches the rows matching filters and returns the first updated row,
	// or nil when nothing matched.
	Update(ctx context.Context, table string, filters []domain.Filter, patch domain.Record) (domain.Record, error)
}

// ChatModel is the LLM boundary.
type ChatModel interface {
	Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// InvoiceReader structures invoice content with a model.
type InvoiceReader interface {
	ReadInvoiceImage(ctx context.Context, image []byte, mimeType string) (domain.ParsedInvoice, error)
	ReadInvoiceText(ctx context.Context, text string) (domain.ParsedInvoice, error)
}

// MediaDownloader fetches an uploaded file by URL.
type MediaDownloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// MediaResolver turns a transport file reference into a downloadable URL.
type MediaResolver interface {
	MediaURL(ctx context.Context, fileID string) (string, error)
}

// DocumentTextExtractor pulls plain text out of a binary document.
type DocumentTextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// ObjectStorage stores source files and generated exports.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Notifier delivers text to a conversation.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// DocumentSender delivers a file to a conversation.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, filename string, data io.Reader, caption string) error
}

// ReportWorkbookWriter renders a monthly report as a spreadsheet.
type ReportWorkbookWriter interface {
	WriteMonthlyReport(w io.Writer, report domain.MonthlyReport) error
}

// CompositionSink is the fire-and-forget audit boundary. Implementations
// never block the caller on I/O and never return errors.
type CompositionSink interface {
	LogComposition(ctx context.Context, entry domain.CompositionEntry) string
	LogResult(ctx context.Context, result domain.CompositionResult)
	LogFeedback(ctx context.Context, feedback domain.CompositionFeedback)
}

// CompositionWriter performs the actual audit writes.
type CompositionWriter interface {
	WriteComposition(ctx context.Context, entry domain.CompositionEntry) error
	WriteResult(ctx context.Context, result domain.CompositionResult) error
	WriteFeedback(ctx context.Context, feedback domain.CompositionFeedback) error
}

// CompositionEventSource delivers audit events published by the API.
type CompositionEventSource interface {
	SubscribeCompositionEvents(ctx context.Context, handler func(context.Context, domain.CompositionEvent) error) error
}

// AgentObserver receives agent loop measurements.
type AgentObserver interface {
	ObserveTurn(intent domain.Intent, status string, iterations int)
	ObserveToolCall(tool, status string)
	ObserveComposition(prompt domain.ComposedPrompt)
}
