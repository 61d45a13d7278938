package ticket

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const (
	StatusPending  = "PENDING"
	StatusPaid     = "PAID"
	StatusRefunded = "REFUNDED"
)

const (
	RegistrationRegistered = "REGISTERED"
	RegistrationCancelled  = "CANCELLED"
)

// Ticket entitles a user to check in to a paid event once PAID. The
// commission rate is snapshotted here at purchase time so later partner
// rate changes never alter historical revenue figures.
type Ticket struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	EventID        string    `gorm:"column:event_id;index" json:"eventId"`
	UserID         string    `gorm:"column:user_id;index" json:"userId"`
	Price          int64     `gorm:"column:price" json:"price"`
	Status         string    `gorm:"column:status;default:'PENDING'" json:"status"`
	TicketCode     string    `gorm:"column:ticket_code;uniqueIndex" json:"ticketCode"`
	CommissionRate float64   `gorm:"column:commission_rate" json:"commissionRate"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// Registration is the free-event counterpart of a ticket.
type Registration struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	EventID   string    `gorm:"column:event_id;uniqueIndex:idx_registration_event_user" json:"eventId"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_registration_event_user" json:"userId"`
	Status    string    `gorm:"column:status;default:'REGISTERED'" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Registration) TableName() string {
	return "registrations"
}

func GenerateTicketCode() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}

	return fmt.Sprintf("TKT-%s-%s", datePart, strings.ToUpper(fmt.Sprintf("%x", r))), nil
}
