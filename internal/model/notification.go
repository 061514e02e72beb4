package model

import "time"

type Category string

const (
	CategoryReminder     Category = "reminder"
	CategoryDailyDigest  Category = "daily_digest"
	CategoryWeeklyDigest Category = "weekly_digest"
	CategoryTest         Category = "test"
)

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// DueNotification is a reminder the matcher decided must go out now.
type DueNotification struct {
	EventID           string
	RecipientEmail    string
	OccurrenceInstant time.Time
	LeadTimeHours     int
	Category          Category
}

// HistoryRecord is the durable outcome of one dispatch. EventID is empty
// for digests, ErrorDetail is empty on success.
type HistoryRecord struct {
	ID             int64     `json:"id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	RecipientEmail string    `json:"recipient_email"`
	Category       Category  `json:"category"`
	Status         Status    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
}

// Notice is the realtime "you have mail" signal pushed to connected users.
type Notice struct {
	Recipient string    `json:"recipient"`
	Category  Category  `json:"category"`
	EventID   string    `json:"event_id,omitempty"`
	Subject   string    `json:"subject"`
	SentAt    time.Time `json:"sent_at"`
}
