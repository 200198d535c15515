package models

import "time"

type InboxAuthStatus string

const (
	InboxAuthValid   InboxAuthStatus = "valid"
	InboxAuthExpired InboxAuthStatus = "expired"
)

// Inbox binds a tenant support inbox to a remote provider credential.
// The grant_id stored here is authoritative; work rows may denormalize it
// for dispatch but resolve back to this row on conflict.
type Inbox struct {
	ID            string          `gorm:"column:id;primaryKey"`
	TenantID      string          `gorm:"column:tenant_id;index"`
	GrantID       string          `gorm:"column:grant_id"`
	EmailAddress  string          `gorm:"column:email_address"`
	Provider      string          `gorm:"column:provider"`
	AuthStatus    InboxAuthStatus `gorm:"column:auth_status"`
	AuthExpiredAt *time.Time      `gorm:"column:auth_expired_at"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Inbox) TableName() string {
	return "inboxes"
}
