package checkin

import "time"

const (
	ScanModeStudents  = "STUDENTS_SCAN"
	ScanModeOrganizer = "ORGANIZER_SCAN"
)

// CheckIn records a user's admission to an event. The composite unique
// index is the invariant: at most one row per (event, user), enforced by
// the database rather than by client behaviour.
type CheckIn struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	EventID     string    `gorm:"column:event_id;uniqueIndex:idx_checkin_event_user" json:"eventId"`
	UserID      string    `gorm:"column:user_id;uniqueIndex:idx_checkin_event_user" json:"userId"`
	ScanMode    string    `gorm:"column:scan_mode" json:"scanMode"`
	CheckedInAt time.Time `gorm:"column:checked_in_at" json:"checkedInAt"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (CheckIn) TableName() string {
	return "check_ins"
}

// Stats is the dashboard aggregate for one event.
type Stats struct {
	TotalCheckIns int64   `json:"totalCheckIns"`
	TotalEligible int64   `json:"totalEligible"`
	CheckInRate   float64 `json:"checkInRate"`
	Basis         string  `json:"basis"`
}

const (
	BasisTickets       = "tickets"
	BasisRegistrations = "registrations"
)
