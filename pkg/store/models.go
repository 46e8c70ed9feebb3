package store

import (
	"time"

	"busconnect/pkg/domain"
)

// Row types mirror the table layout in migrations/.
type userRow struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	Username     string    `gorm:"column:username"`
	Email        string    `gorm:"column:email"`
	PasswordHash string    `gorm:"column:password_hash"`
	Role         string    `gorm:"column:role"`
	Online       bool      `gorm:"column:online"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (userRow) TableName() string { return "users" }

type productRow struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	Name        string    `gorm:"column:name"`
	Price       float64   `gorm:"column:price"`
	Image       string    `gorm:"column:image"`
	VendorID    int64     `gorm:"column:vendor_id"`
	Vendor      string    `gorm:"column:vendor"`
	Category    string    `gorm:"column:category"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (productRow) TableName() string { return "products" }

type checkinRow struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PassengerID   int64     `gorm:"column:passenger_id"`
	PassengerName string    `gorm:"column:passenger_name"`
	Location      string    `gorm:"column:location"`
	Timestamp     time.Time `gorm:"column:timestamp"`
}

func (checkinRow) TableName() string { return "checkins" }

type messageRow struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	ChatKey     string    `gorm:"column:chat_key"`
	Text        string    `gorm:"column:text"`
	SenderID    int64     `gorm:"column:sender_id"`
	RecipientID int64     `gorm:"column:recipient_id"`
	SenderName  string    `gorm:"column:sender_name"`
	Timestamp   time.Time `gorm:"column:timestamp"`
}

func (messageRow) TableName() string { return "messages" }

type uniquenessRow struct {
	Username int64 `gorm:"column:username_taken"`
	Email    int64 `gorm:"column:email_taken"`
}

type chatSummaryRow struct {
	ChatKey      string `gorm:"column:chat_key"`
	MessageCount int64  `gorm:"column:message_count"`
	LastID       int64  `gorm:"column:last_id"`
}

const (
	userColumns    = "id, username, email, password_hash, role, online, created_at, updated_at"
	productColumns = "id, name, price, image, vendor_id, vendor, category, description, created_at"
	checkinColumns = "id, passenger_id, passenger_name, location, timestamp"
	messageColumns = "id, chat_key, text, sender_id, recipient_id, sender_name, timestamp"
)

func userFromRow(r userRow) domain.User {
	return domain.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         domain.Role(r.Role),
		Online:       r.Online,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func productFromRow(r productRow) domain.Product {
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Price:       r.Price,
		Image:       r.Image,
		VendorID:    r.VendorID,
		Vendor:      r.Vendor,
		Category:    r.Category,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func checkinFromRow(r checkinRow) domain.Checkin {
	return domain.Checkin{
		ID:            r.ID,
		PassengerID:   r.PassengerID,
		PassengerName: r.PassengerName,
		Location:      r.Location,
		Timestamp:     r.Timestamp.UTC(),
	}
}

func messageFromRow(r messageRow) domain.Message {
	return domain.Message{
		ID:          r.ID,
		ChatKey:     r.ChatKey,
		Text:        r.Text,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		SenderName:  r.SenderName,
		Timestamp:   r.Timestamp.UTC(),
	}
}

func usersFromRows(rows []userRow) []domain.User {
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, userFromRow(r))
	}
	return out
}

func productsFromRows(rows []productRow) []domain.Product {
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, productFromRow(r))
	}
	return out
}
