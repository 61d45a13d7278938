package event

import (
	"time"

	"gorm.io/datatypes"
)

// Event is owned by an organizer; external (partner) events carry a
// commission on paid tickets.
type Event struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	OrganizerID     string         `gorm:"column:organizer_id;index" json:"organizerId"`
	Title           string         `gorm:"column:title" json:"title"`
	Capacity        int            `gorm:"column:capacity" json:"capacity"`
	StartAt         time.Time      `gorm:"column:start_at" json:"startAt"`
	EndAt           time.Time      `gorm:"column:end_at" json:"endAt"`
	IsExternalEvent bool           `gorm:"column:is_external_event" json:"isExternalEvent"`
	IsPaid          bool           `gorm:"column:is_paid" json:"isPaid"`
	Price           int64          `gorm:"column:price" json:"price"`
	Metadata        datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Event) TableName() string {
	return "events"
}
