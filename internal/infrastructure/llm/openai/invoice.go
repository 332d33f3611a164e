package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const (
	invoiceMaxTokens   = 4096
	invoiceTemperature = 0.1
	invoiceTextLimit   = 12000
)

const invoiceSystemPrompt = `Voce e um especialista em extrair dados de notas fiscais brasileiras (NF-e, NFC-e, cupom fiscal).

Analise a nota fiscal e extraia os seguintes dados em formato JSON:

{
    "supplier_name": "Nome do fornecedor/emitente",
    "supplier_cnpj": "CNPJ do fornecedor (XX.XXX.XXX/XXXX-XX)",
    "invoice_number": "Numero da NF",
    "invoice_date": "Data de emissao (YYYY-MM-DD)",
    "total_amount": 0.00,
    "tax_amount": 0.00,
    "items": [
        {
            "product_name": "Nome do produto como aparece na NF",
            "product_code": "Codigo NCM ou do fornecedor (se visivel)",
            "quantity": 0.000,
            "unit": "kg/un/cx/lt/pct/ml",
            "unit_price": 0.0000,
            "total_price": 0.00,
            "confidence": 0.0
        }
    ],
    "confidence": 0.0
}

REGRAS IMPORTANTES:
1. Extraia TODOS os itens da nota fiscal
2. Mantenha os nomes dos produtos EXATAMENTE como aparecem na NF
3. Converta valores para formato numerico (sem R$, usando ponto como decimal)
4. Se um campo nao estiver legivel, use null
5. O campo confidence (0.0-1.0) indica sua confianca na extracao
6. Para cada item, indique a confianca individual
7. Se o conteudo nao for uma nota fiscal, retorne {"error": "Imagem nao parece ser uma nota fiscal"}
8. Formate CNPJ como XX.XXX.XXX/XXXX-XX
9. Formate data como YYYY-MM-DD
10. total_price de cada item = quantity * unit_price

Retorne APENAS o JSON, sem texto adicional.`

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// InvoiceReader structures invoice photos and PDF text with the vision model.
type InvoiceReader struct {
	client *Client
}

func NewInvoiceReader(client *Client) *InvoiceReader {
	return &InvoiceReader{client: client}
}

func (r *InvoiceReader) ReadInvoiceImage(ctx context.Context, image []byte, mimeType string) (domain.ParsedInvoice, error) {
	if len(image) == 0 {
		return domain.ParsedInvoice{}, domain.WrapError(domain.ErrInvalidInput, "read invoice image", errors.New("empty image"))
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	user := []contentPart{
		{Type: "text", Text: "Analise esta nota fiscal e extraia todos os dados em formato JSON."},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "high"}},
	}
	return r.read(ctx, user)
}

func (r *InvoiceReader) ReadInvoiceText(ctx context.Context, text string) (domain.ParsedInvoice, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ParsedInvoice{}, domain.WrapError(domain.ErrInvalidInput, "read invoice text", errors.New("document has no text"))
	}
	if runes := []rune(text); len(runes) > invoiceTextLimit {
		text = string(runes[:invoiceTextLimit])
	}
	return r.read(ctx, "Extraia os dados desta nota fiscal em formato JSON:\n\n"+text)
}

func (r *InvoiceReader) read(ctx context.Context, userContent any) (domain.ParsedInvoice, error) {
	payload := map[string]any{
		"model": r.client.visionModel,
		"messages": []wireMessage{
			{Role: string(domain.RoleSystem), Content: invoiceSystemPrompt},
			{Role: string(domain.RoleUser), Content: userContent},
		},
		"max_tokens":  invoiceMaxTokens,
		"temperature": invoiceTemperature,
	}

	var response chatCompletionResponse
	if err := r.client.call(ctx, "vision", payload, &response); err != nil {
		return domain.ParsedInvoice{}, err
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == nil {
		return domain.ParsedInvoice{}, errors.New("vision response has no content")
	}
	return parseInvoiceContent(*response.Choices[0].Message.Content)
}

type invoicePayload struct {
	domain.ParsedInvoice
	ConfidenceScore *float64 `json:"confidence_score"`
	Error           string   `json:"error"`
}

func parseInvoiceContent(content string) (domain.ParsedInvoice, error) {
	raw, ok := extractJSON(content)
	if !ok {
		return domain.ParsedInvoice{}, domain.WrapError(domain.ErrInvalidInput, "parse invoice",
			fmt.Errorf("model answer is not JSON: %.200s", content))
	}

	payload := invoicePayload{ParsedInvoice: domain.ParsedInvoice{Confidence: -1}}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ParsedInvoice{}, fmt.Errorf("decode invoice json: %w", err)
	}
	if payload.Error != "" {
		return domain.ParsedInvoice{}, domain.WrapError(domain.ErrInvalidInput, "parse invoice", errors.New(payload.Error))
	}

	invoice := payload.ParsedInvoice
	invoice.Raw = content
	if invoice.SupplierName == "" {
		invoice.SupplierName = "Unknown"
	}
	if invoice.Confidence < 0 {
		invoice.Confidence = 0.8
		if payload.ConfidenceScore != nil {
			invoice.Confidence = *payload.ConfidenceScore
		}
	}
	for i := range invoice.Items {
		item := &invoice.Items[i]
		if item.ProductName == "" {
			item.ProductName = "Unknown"
		}
		if item.Unit == "" {
			item.Unit = "un"
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.Confidence == 0 {
			item.Confidence = 0.8
		}
	}
	return invoice, nil
}

// extractJSON tries the whole answer, then a fenced block, then the outermost braces.
func extractJSON(content string) (json.RawMessage, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}
	if json.Valid([]byte(content)) {
		return json.RawMessage(content), true
	}
	if m := codeFence.FindStringSubmatch(content); m != nil {
		if block := strings.TrimSpace(m[1]); json.Valid([]byte(block)) {
			return json.RawMessage(block), true
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if candidate := content[start : end+1]; json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}
