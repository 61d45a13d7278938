package payment

import "time"

const (
	VerificationPending  = "PENDING"
	VerificationApproved = "APPROVED"
	VerificationRejected = "REJECTED"
)

const (
	OutcomeApproved = "APPROVED"
	OutcomeRejected = "REJECTED"
)

// PaymentVerification is the manual receipt-review record used when
// automated payment confirmation is unavailable. APPROVED and REJECTED are
// terminal; a rejected ticket stays PENDING and may be resubmitted.
type PaymentVerification struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	TicketID        string     `gorm:"column:ticket_id;index" json:"ticketId"`
	EventID         string     `gorm:"column:event_id;index" json:"eventId"`
	ReceiptImageURL string     `gorm:"column:receipt_image_url" json:"receiptImageUrl"`
	Status          string     `gorm:"column:status;default:'PENDING'" json:"status"`
	OrganizerNotes  string     `gorm:"column:organizer_notes" json:"organizerNotes,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	DecidedAt       *time.Time `gorm:"column:decided_at" json:"decidedAt,omitempty"`
}

func (PaymentVerification) TableName() string {
	return "payment_verifications"
}
