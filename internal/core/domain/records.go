package domain

import (
	"fmt"
	"time"
)

// Identification is the result of resolving a chat id against the store.
type Identification struct {
	Known              bool   `json:"is_known"`
	OnboardingComplete bool   `json:"onboarding_complete"`
	RestaurantID       int64  `json:"restaurant_id,omitempty"`
	PersonID           int64  `json:"person_id,omitempty"`
	RestaurantName     string `json:"restaurant_name,omitempty"`
	PersonName         string `json:"person_name,omitempty"`
	Source             string `json:"source,omitempty"`
}

const (
	IdentifiedByOnboarding  = "finance_onboarding"
	IdentifiedByProcurement = "restaurant_people"
)

// UserMemory is the persisted restaurant context injected into the prompt.
type UserMemory struct {
	RestaurantName     string
	PersonName         string
	IsOwner            *bool
	City               string
	State              string
	SavingsOpportunity string
	PriceSensitivity   string
	CMVTarget          float64
	LastCMV            *float64
	LastReportPeriod   string
}

func (m *UserMemory) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.RestaurantName == "" &&
		m.PersonName == "" &&
		m.IsOwner == nil &&
		m.City == "" &&
		m.State == "" &&
		m.SavingsOpportunity == "" &&
		m.PriceSensitivity == "" &&
		m.CMVTarget == 0 &&
		m.LastCMV == nil &&
		m.LastReportPeriod == ""
}

// ParsedInvoice is the structured content read from an invoice image or PDF.
type ParsedInvoice struct {
	SupplierName  string              `json:"supplier_name"`
	SupplierCNPJ  string              `json:"supplier_cnpj,omitempty"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	InvoiceDate   string              `json:"invoice_date,omitempty"`
	Items         []ParsedInvoiceItem `json:"items"`
	TotalAmount   *float64            `json:"total_amount,omitempty"`
	TaxAmount     *float64            `json:"tax_amount,omitempty"`
	Confidence    float64             `json:"confidence"`
	Raw           string              `json:"-"`
}

type ParsedInvoiceItem struct {
	ProductName string  `json:"product_name"`
	ProductCode string  `json:"product_code,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Confidence  float64 `json:"confidence"`
}

// Total returns the declared total, or the sum of item totals.
func (p ParsedInvoice) Total() float64 {
	if p.TotalAmount != nil {
		return *p.TotalAmount
	}
	sum := 0.0
	for _, item := range p.Items {
		sum += item.TotalPrice
	}
	return sum
}

// PriceAlert is a triggered watchlist condition.
type PriceAlert struct {
	WatchlistID   string  `json:"watchlist_id"`
	ProductName   string  `json:"product_name"`
	AlertType     string  `json:"alert_type"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price"`
	ChangePercent float64 `json:"change_percent"`
	Direction     string  `json:"direction"`
}

// PriceTrend is the comparison of one invoice line against its previous purchase.
type PriceTrend struct {
	ProductName   string   `json:"product"`
	CurrentPrice  float64  `json:"current_price"`
	PreviousPrice *float64 `json:"previous_price"`
	ChangePercent *float64 `json:"change_percent"`
	Trend         string   `json:"trend"`
	Significant   bool     `json:"is_significant"`
}

const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
	TrendNew    = "new"
)

// ToolCallSummary is the audit view of one executed tool call.
type ToolCallSummary struct {
	Tool        string `json:"tool"`
	ArgsSummary string `json:"args_summary"`
}

// CompositionEntry is the audit record of one composed prompt.
type CompositionEntry struct {
	ID                string         `json:"id"`
	RestaurantID      int64          `json:"restaurant_id,omitempty"`
	ChatID            int64          `json:"telegram_chat_id"`
	SessionID         string         `json:"session_id"`
	UserMessage       string         `json:"user_message"`
	Intent            Intent         `json:"detected_intent"`
	IntentConfidence  float64        `json:"intent_confidence"`
	BaseVersion       string         `json:"base_prompt_version"`
	Layers            []LayerSummary `json:"injected_components"`
	ContextItemsCount int            `json:"context_items_count"`
	TokenEstimate     int            `json:"final_prompt_token_estimate"`
	Fingerprint       string         `json:"prompt_fingerprint"`
	Model             string         `json:"model_used"`
	CreatedAt         time.Time      `json:"created_at"`
}

// CompositionResult is the outcome patched onto a composition entry.
type CompositionResult struct {
	LogID          string            `json:"log_id"`
	ElapsedMS      int64             `json:"execution_time_ms"`
	ToolCalls      []ToolCallSummary `json:"tool_calls_made"`
	ResponseLength int               `json:"response_length"`
	Failed         bool              `json:"error_occurred"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

type FeedbackKind string

const (
	FeedbackPositive   FeedbackKind = "positive"
	FeedbackNegative   FeedbackKind = "negative"
	FeedbackCorrection FeedbackKind = "correction"
)

func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackPositive, FeedbackNegative, FeedbackCorrection:
		return true
	default:
		return false
	}
}

// CompositionFeedback is user feedback attached to a logged composition.
type CompositionFeedback struct {
	LogID   string       `json:"log_id"`
	Kind    FeedbackKind `json:"feedback"`
	Details string       `json:"correction_details,omitempty"`
}

// TurnResult is what one handled message produced.
type TurnResult struct {
	Reply      string            `json:"reply"`
	Intent     IntentResult      `json:"intent"`
	Iterations int               `json:"iterations"`
	ToolCalls  []ToolCallSummary `json:"tool_calls"`
	LogID      string            `json:"log_id,omitempty"`
}

// SupplierSpend is the purchase total of one supplier inside a period.
type SupplierSpend struct {
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
	Percent float64 `json:"percent"`
	Count   int     `json:"invoice_count"`
}

// CategorySpend is the purchase total of one product category.
type CategorySpend struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// MonthlyReport is the computed monthly closure of a restaurant.
type MonthlyReport struct {
	ID             string          `json:"report_id"`
	RestaurantID   int64           `json:"restaurant_id"`
	RestaurantName string          `json:"restaurant_name,omitempty"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	Revenue        float64         `json:"total_revenue"`
	Purchases      float64         `json:"total_purchases"`
	CMVPercent     float64         `json:"cmv_percent"`
	CMVTarget      float64         `json:"cmv_target"`
	Status         string          `json:"cmv_status"`
	InvoiceCount   int             `json:"invoice_count"`
	Suppliers      []SupplierSpend `json:"suppliers"`
	Categories     []CategorySpend `json:"categories,omitempty"`
	MoMChange      *float64        `json:"mom_purchase_change_percent"`
	Insights       []string        `json:"insights"`
}

func (r MonthlyReport) Period() string {
	return fmt.Sprintf("%02d/%d", r.Month, r.Year)
}

const (
	CMVStatusOnTarget    = "on_target"
	CMVStatusAboveTarget = "above_target"
	CMVStatusCritical    = "critical"
)

const (
	CompositionEventEntry    = "composition"
	CompositionEventResult   = "result"
	CompositionEventFeedback = "feedback"
)

// CompositionEvent carries one audit write between the API and the worker.
type CompositionEvent struct {
	Kind     string               `json:"kind"`
	Entry    *CompositionEntry    `json:"entry,omitempty"`
	Result   *CompositionResult   `json:"result,omitempty"`
	Feedback *CompositionFeedback `json:"feedback,omitempty"`
}
