package domain

import "time"

// Identity is who the conversation belongs to, resolved once per session.
type Identity struct {
	RestaurantID       int64  `json:"restaurant_id,omitempty"`
	PersonID           int64  `json:"person_id,omitempty"`
	RestaurantName     string `json:"restaurant_name,omitempty"`
	PersonName         string `json:"person_name,omitempty"`
	IsNewUser          bool   `json:"is_new_user"`
	OnboardingComplete bool   `json:"onboarding_complete"`
}

// Session is the in-memory state of one conversation. It is owned by a
// single turn at a time; see SessionStore.
type Session struct {
	ChatID int64
	ID     string
	Identity

	Identified bool

	Messages             []Message
	LastIntent           Intent
	LastCompositionLogID string

	UploadedPhotos      []string
	AwaitingPhotos      bool
	CurrentInvoiceID    string
	CurrentReportID     string
	PendingConfirmation string

	CreatedAt  time.Time
	LastActive time.Time
}

func NewSession(chatID int64, id string, now time.Time) *Session {
	return &Session{
		ChatID:     chatID,
		ID:         id,
		CreatedAt:  now,
		LastActive: now,
	}
}

func (s *Session) HasRestaurant() bool {
	return s.RestaurantID != 0
}

// ApplyIdentification copies a lookup result onto the session.
func (s *Session) ApplyIdentification(id Identification) {
	s.RestaurantID = id.RestaurantID
	s.PersonID = id.PersonID
	s.PersonName = id.PersonName
	s.RestaurantName = id.RestaurantName
	s.OnboardingComplete = id.OnboardingComplete
	s.IsNewUser = !id.Known
	s.Identified = true
}

// ClearConversation wipes history and pending operations but keeps identity.
func (s *Session) ClearConversation() {
	s.Messages = nil
	s.LastIntent = ""
	s.LastCompositionLogID = ""
	s.UploadedPhotos = nil
	s.AwaitingPhotos = false
	s.CurrentInvoiceID = ""
	s.CurrentReportID = ""
	s.PendingConfirmation = ""
}

// AddPhoto queues a photo URL for batch processing and returns the queue size.
func (s *Session) AddPhoto(url string) int {
	s.UploadedPhotos = append(s.UploadedPhotos, url)
	s.AwaitingPhotos = true
	return len(s.UploadedPhotos)
}

// TakePhotos returns and clears the queued photos.
func (s *Session) TakePhotos() []string {
	photos := s.UploadedPhotos
	s.UploadedPhotos = nil
	s.AwaitingPhotos = false
	return photos
}

// SetSystemMessage removes every system message and puts content at the front.
func (s *Session) SetSystemMessage(content string) {
	kept := make([]Message, 0, len(s.Messages)+1)
	kept = append(kept, Message{Role: RoleSystem, Content: content})
	for _, msg := range s.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		kept = append(kept, msg)
	}
	s.Messages = kept
}

func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Snapshot returns a deep copy used to roll back a failed turn.
func (s *Session) Snapshot() Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		if len(msg.ToolCalls) > 0 {
			msg.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		}
		cp.Messages[i] = msg
	}
	cp.UploadedPhotos = append([]string(nil), s.UploadedPhotos...)
	return cp
}

func (s *Session) Restore(snapshot Session) {
	*s = snapshot
}
