package domain

import "time"

type Role string

const (
	RoleDriver    Role = "driver"
	RoleVendor    Role = "vendor"
	RolePassenger Role = "passenger"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleVendor, RolePassenger:
		return true
	default:
		return false
	}
}

// Sender tags a message relative to the user viewing it.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderOther Sender = "other"
)

// DefaultCategory is applied to products created without a category.
const DefaultCategory = "General"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Online       bool      `json:"online"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Image       string    `json:"image"`
	VendorID    int64     `json:"vendor_id"`
	Vendor      string    `json:"vendor"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Checkin struct {
	ID            int64     `json:"id"`
	PassengerID   int64     `json:"passenger_id"`
	PassengerName string    `json:"passenger_name"`
	Location      string    `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
}

// Message is a stored chat line. Sender is filled per viewer and never persisted.
type Message struct {
	ID          int64     `json:"id"`
	ChatKey     string    `json:"chat_key"`
	Text        string    `json:"text"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	SenderName  string    `json:"sender_name"`
	Sender      Sender    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
}

// Chat summarizes one conversation from the point of view of a participant.
type Chat struct {
	ChatKey      string    `json:"chat_key"`
	Peer         User      `json:"peer"`
	LastMessage  string    `json:"last_message"`
	LastSenderID int64     `json:"last_sender_id"`
	MessageCount int64     `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ViewedBy returns a copy of m with Sender set relative to viewerID.
func (m Message) ViewedBy(viewerID int64) Message {
	if m.SenderID == viewerID {
		m.Sender = SenderUser
	} else {
		m.Sender = SenderOther
	}
	return m
}
