package partner

import "time"

// Account aggregates a partner's revenue and commission. The counters are
// append-only accumulations keyed by approved tickets; they are never
// decremented outside an explicit admin adjustment.
type Account struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	Name            string    `gorm:"column:name" json:"name"`
	CommissionRate  float64   `gorm:"column:commission_rate" json:"commissionRate"`
	PaidEventSlots  int       `gorm:"column:paid_event_slots" json:"paidEventSlots"`
	TotalRevenue    int64     `gorm:"column:total_revenue" json:"totalRevenue"`
	TotalCommission int64     `gorm:"column:total_commission" json:"totalCommission"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Account) TableName() string {
	return "partner_accounts"
}
