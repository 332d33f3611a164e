package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	mimePDF            = "application/pdf"
	batchParseParallel = 3
)

// SavedInvoice is a parsed invoice persisted with its line items.
type SavedInvoice struct {
	ID          string
	Parsed      domain.ParsedInvoice
	ArchivePath string
	Trends      []domain.PriceTrend
}

// InvoiceService turns uploaded invoice files into stored invoices.
type InvoiceService struct {
	store      ports.Store
	downloader ports.MediaDownloader
	reader     ports.InvoiceReader
	pdf        ports.DocumentTextExtractor
	archive    ports.ObjectStorage
	trends     *PriceTrends
	logger     *slog.Logger
	now        func() time.Time
}

type InvoiceDeps struct {
	Store      ports.Store
	Downloader ports.MediaDownloader
	Reader     ports.InvoiceReader
	PDF        ports.DocumentTextExtractor
	Archive    ports.ObjectStorage
	Trends     *PriceTrends
	Logger     *slog.Logger
}

func NewInvoiceService(deps InvoiceDeps) *InvoiceService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{
		store:      deps.Store,
		downloader: deps.Downloader,
		reader:     deps.Reader,
		pdf:        deps.PDF,
		archive:    deps.Archive,
		trends:     deps.Trends,
		logger:     logger,
		now:        time.Now,
	}
}

func isPDF(url, mimeType string, data []byte) bool {
	if strings.HasPrefix(strings.ToLower(mimeType), mimePDF) {
		return true
	}
	if strings.HasSuffix(strings.ToLower(strings.SplitN(url, "?", 2)[0]), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func fileExtension(url, mimeType string, pdf bool) string {
	if pdf {
		return ".pdf"
	}
	if ext := path.Ext(strings.SplitN(url, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

type downloadedInvoice struct {
	url    string
	data   []byte
	ext    string
	parsed domain.ParsedInvoice
}

// read downloads a file and structures it. PDFs go through text
// extraction, everything else through the vision model.
func (s *InvoiceService) read(ctx context.Context, url string) (downloadedInvoice, error) {
	if s.downloader == nil || s.reader == nil {
		return downloadedInvoice{}, errors.New("invoice reading is not configured")
	}
	data, mimeType, err := s.downloader.Download(ctx, url)
	if err != nil {
		return downloadedInvoice{}, fmt.Errorf("download invoice: %w", err)
	}

	pdf := isPDF(url, mimeType, data)
	var parsed domain.ParsedInvoice
	if pdf {
		if s.pdf == nil {
			return downloadedInvoice{}, domain.WrapError(domain.ErrInvalidInput, "read invoice", errors.New("pdf invoices are not supported"))
		}
		text, err := s.pdf.ExtractText(ctx, data)
		if err != nil {
			return downloadedInvoice{}, fmt.Errorf("extract pdf text: %w", err)
		}
		parsed, err = s.reader.ReadInvoiceText(ctx, text)
		if err != nil {
			return downloadedInvoice{}, fmt.Errorf("read invoice text: %w", err)
		}
	} else {
		if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
		parsed, err = s.reader.ReadInvoiceImage(ctx, data, mimeType)
		if err != nil {
			return downloadedInvoice{}, fmt.Errorf("read invoice image: %w", err)
		}
	}
	return downloadedInvoice{url: url, data: data, ext: fileExtension(url, mimeType, pdf), parsed: parsed}, nil
}

// ParseAndSave reads one invoice file, stores it with its line items and
// computes price trends against earlier purchases.
func (s *InvoiceService) ParseAndSave(ctx context.Context, session *domain.Session, url string) (SavedInvoice, error) {
	doc, err := s.read(ctx, url)
	if err != nil {
		return SavedInvoice{}, err
	}
	return s.save(ctx, session, doc)
}

// ParseAndSaveBatch processes several files concurrently. Files that fail
// are skipped and reported by URL.
func (s *InvoiceService) ParseAndSaveBatch(ctx context.Context, session *domain.Session, urls []string) ([]SavedInvoice, map[string]string) {
	docs := make([]*downloadedInvoice, len(urls))
	failures := make(map[string]string)
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParseParallel)
	for i, url := range urls {
		g.Go(func() error {
			doc, err := s.read(gctx, url)
			if err != nil {
				errs[i] = err
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	var saved []SavedInvoice
	for i, doc := range docs {
		if doc == nil {
			s.logger.Warn("invoice_parse_failed", "url", urls[i], "error", errs[i])
			failures[urls[i]] = errs[i].Error()
			continue
		}
		invoice, err := s.save(ctx, session, *doc)
		if err != nil {
			s.logger.Warn("invoice_save_failed", "url", urls[i], "error", err)
			failures[urls[i]] = err.Error()
			continue
		}
		saved = append(saved, invoice)
	}
	return saved, failures
}

func (s *InvoiceService) save(ctx context.Context, session *domain.Session, doc downloadedInvoice) (SavedInvoice, error) {
	parsed := doc.parsed
	id := uuid.NewString()
	out := SavedInvoice{ID: id, Parsed: parsed}

	if s.archive != nil {
		key := path.Join("invoices", fmt.Sprint(session.RestaurantID), id+doc.ext)
		if err := s.archive.Save(ctx, key, bytes.NewReader(doc.data)); err != nil {
			s.logger.Warn("invoice_archive_failed", "invoice_id", id, "error", err)
		} else {
			out.ArchivePath = key
		}
	}

	record := domain.Record{
		"id":                      id,
		"restaurant_id":           session.RestaurantID,
		"telegram_chat_id":        session.ChatID,
		"telegram_file_url":       doc.url,
		"supplier_name_extracted": parsed.SupplierName,
		"supplier_cnpj_extracted": nullableString(parsed.SupplierCNPJ),
		"invoice_number":          nullableString(parsed.InvoiceNumber),
		"invoice_date":            nullableString(parsed.InvoiceDate),
		"total_amount":            parsed.Total(),
		"tax_amount":              parsed.TaxAmount,
		"status":                  invoiceStatusParsed,
		"parsing_confidence":      parsed.Confidence,
		"raw_extraction_result":   parsed,
	}
	if out.ArchivePath != "" {
		record["archive_path"] = out.ArchivePath
	}
	if _, err := s.store.Insert(ctx, domain.TableInvoices, record); err != nil {
		return SavedInvoice{}, fmt.Errorf("insert invoice: %w", err)
	}

	for idx, item := range parsed.Items {
		_, err := s.store.Insert(ctx, domain.TableInvoiceLineItems, domain.Record{
			"invoice_id":            id,
			"product_name_raw":      item.ProductName,
			"quantity":              item.Quantity,
			"unit":                  item.Unit,
			"unit_price":            item.UnitPrice,
			"total_price":           item.TotalPrice,
			"extraction_confidence": item.Confidence,
			"line_index":            idx,
		})
		if err != nil {
			return SavedInvoice{}, fmt.Errorf("insert invoice line: %w", err)
		}
	}

	if s.trends != nil {
		trends, err := s.trends.InvoiceTrends(ctx, session.RestaurantID, id)
		if err != nil {
			s.logger.Warn("invoice_trends_failed", "invoice_id", id, "error", err)
		}
		out.Trends = trends
	}
	return out, nil
}

// Confirm marks an invoice of the restaurant as confirmed by the user.
func (s *InvoiceService) Confirm(ctx context.Context, restaurantID int64, invoiceID string) error {
	filters := []domain.Filter{domain.Eq("id", invoiceID)}
	if restaurantID != 0 {
		filters = append(filters, domain.Eq("restaurant_id", restaurantID))
	}
	updated, err := s.store.Update(ctx, domain.TableInvoices, filters, domain.Record{
		"status":         invoiceStatusConfirmed,
		"user_confirmed": true,
		"confirmed_at":   s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("confirm invoice: %w", err)
	}
	if updated == nil {
		return domain.WrapError(domain.ErrNotFound, "confirm invoice", fmt.Errorf("invoice %s not found", invoiceID))
	}
	return nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
