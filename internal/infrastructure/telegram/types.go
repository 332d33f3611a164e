package telegram

import "encoding/json"

// Update is the subset of the Bot API update object the bot consumes.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	Chat      Chat        `json:"chat"`
	From      *User       `json:"from,omitempty"`
	Date      int64       `json:"date"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *Document   `json:"document,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type File struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size,omitempty"`
}

// LargestPhoto returns the highest resolution size; Telegram lists them
// in ascending order.
func (m *Message) LargestPhoto() (PhotoSize, bool) {
	if m == nil || len(m.Photo) == 0 {
		return PhotoSize{}, false
	}
	best := m.Photo[len(m.Photo)-1]
	for _, p := range m.Photo {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best, true
}

type apiResponse struct {
	OK          bool               `json:"ok"`
	Result      json.RawMessage    `json:"result"`
	ErrorCode   int                `json:"error_code"`
	Description string             `json:"description"`
	Parameters  *responseParameter `json:"parameters,omitempty"`
}

type responseParameter struct {
	RetryAfter int `json:"retry_after"`
}
