package models

import (
	"encoding/json"
	"time"
)

// Classification status codes of an inbound message
const (
	StatusUnclassified     = 0
	StatusEventAndCustomer = 1
	StatusEventNoCustomer  = 2
	StatusCustomerOnly     = 3
	StatusUnmatched        = 4
)

// InboundMessage is one processed email row
type InboundMessage struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Subject          string    `json:"subject" gorm:"type:text"`
	Body             string    `json:"body" gorm:"type:longtext"`
	HTMLBody         string    `json:"html_body" gorm:"column:htmlBody;type:longtext"`
	Timestamp        time.Time `json:"timestamp" gorm:"column:timestamp"`
	Sender           string    `json:"sender" gorm:"type:varchar(320);index"`
	Receiver         string    `json:"receiver" gorm:"type:varchar(320);index"`
	ReceiverUnparsed string    `json:"receiver_unparsed" gorm:"column:receiver_unparsed;type:text"`
	MessageIngoing   bool      `json:"message_ingoing" gorm:"column:message_ingoing;not null"`
	Status           int       `json:"status" gorm:"not null;default:0;index"`
	TenantID         *uint     `json:"tenant_id" gorm:"index"`
	CustomerID       *uint     `json:"customer_id" gorm:"index"`
	EventID          *uint     `json:"event_id" gorm:"index"`
	Attachments      *string   `json:"-" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for InboundMessage
func (InboundMessage) TableName() string {
	return "email_messages"
}

// AttachmentPaths decodes the stored JSON array of attachment paths
func (m *InboundMessage) AttachmentPaths() []string {
	if m.Attachments == nil || *m.Attachments == "" {
		return nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(*m.Attachments), &paths); err != nil {
		return nil
	}
	return paths
}

// StatusLabel returns a human readable name for a status code
func StatusLabel(status int) string {
	switch status {
	case StatusUnclassified:
		return "unclassified"
	case StatusEventAndCustomer:
		return "event_and_customer"
	case StatusEventNoCustomer:
		return "event_no_customer"
	case StatusCustomerOnly:
		return "customer_only"
	case StatusUnmatched:
		return "unmatched"
	default:
		return "unknown"
	}
}
