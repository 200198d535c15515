package models

import "time"

type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionCompleted ExtractionStatus = "completed"
)

// Message is a persisted email message, uniquely identified by the remote
// provider's message id and attached to its local thread row.
type Message struct {
	ID               string           `gorm:"column:id;primaryKey"`
	RemoteMessageID  string           `gorm:"column:remote_message_id;uniqueIndex"`
	ThreadID         string           `gorm:"column:thread_id;index"`
	RemoteThreadID   string           `gorm:"column:remote_thread_id;index"`
	FromAddress      string           `gorm:"column:from_address"`
	FromName         string           `gorm:"column:from_name"`
	ToAddresses      StringList       `gorm:"column:to_addresses;type:jsonb"`
	CcAddresses      StringList       `gorm:"column:cc_addresses;type:jsonb"`
	BccAddresses     StringList       `gorm:"column:bcc_addresses;type:jsonb"`
	Subject          string           `gorm:"column:subject"`
	Snippet          string           `gorm:"column:snippet"`
	BodyText         string           `gorm:"column:body_text"`
	BodyHTML         string           `gorm:"column:body_html"`
	SentAt           *time.Time       `gorm:"column:sent_at;index"`
	ExtractionStatus ExtractionStatus `gorm:"column:extraction_status"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}
