package domain

// Intent is the skill a user message is routed to.
type Intent string

const (
	IntentInvoiceUpload  Intent = "invoice_upload"
	IntentMonthlyClosure Intent = "monthly_closure"
	IntentCMVQuery       Intent = "cmv_query"
	IntentWatchlist      Intent = "watchlist"
	IntentOnboarding     Intent = "onboarding"
	IntentGeneral        Intent = "general"
)

// IntentResult is the outcome of classifying one inbound message.
// Trigger names the rule that fired ("new_user", "photo", "menu_2",
// a matched pattern) and is empty for the general fallback.
type IntentResult struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Trigger    string  `json:"trigger,omitempty"`
}

func (i Intent) String() string { return string(i) }

// ParseIntent maps a label back to an Intent. Unknown labels map to general.
func ParseIntent(label string) Intent {
	switch Intent(label) {
	case IntentInvoiceUpload, IntentMonthlyClosure, IntentCMVQuery, IntentWatchlist, IntentOnboarding:
		return Intent(label)
	default:
		return IntentGeneral
	}
}
