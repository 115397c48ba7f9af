package domain

import "time"

// Priority orders alerts for delivery and channel selection.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Channel is a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelInApp    Channel = "in_app"
)

// Contact is the resolved recipient for an asset's alerts.
type Contact struct {
	ID       string
	AssetID  string
	Name     string
	Email    string
	Phone    string
	WhatsApp string
	UserID   string // in-app recipient
}

// AddressFor returns the channel-specific address, or "" when the
// contact has none for that channel.
func (c Contact) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	case ChannelWhatsApp:
		return c.WhatsApp
	case ChannelInApp:
		return c.UserID
	default:
		return ""
	}
}

// ComposedAlert is the renderable output of the composer, enqueued for
// delivery. Persisted as an AlertRecord the moment it is created.
type ComposedAlert struct {
	ID        string
	ArrivalID string
	AssetID   string
	Type      TriggerType
	Title     string
	Body      string
	Priority  Priority
	Channels  []Channel
	Recipient Contact

	// DedupScope is copied from the condition so dedup queries can
	// distinguish e.g. deadline alerts for different document types.
	DedupScope string

	CreatedAt time.Time
}

// ChannelOutcome is the per-channel delivery result recorded on the
// alert record.
type ChannelOutcome struct {
	Channel   Channel   `json:"channel"`
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	At        time.Time `json:"at"`
}

// AlertRecord is the persisted alert: audit log, dedup source, and
// delivery-status tracker. Created by the composer, mutated only by
// the dispatcher. Never deleted.
type AlertRecord struct {
	ID         string
	ArrivalID  string
	AssetID    string
	Type       TriggerType
	Title      string
	Body       string
	Priority   Priority
	Channels   []Channel
	Recipient  string // primary address for audit display
	DedupScope string

	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	AcknowledgedAt *time.Time
	FailedAt       *time.Time
	FailureReason  string

	Outcomes []ChannelOutcome

	CreatedAt time.Time
}
