package models

import "time"

// MessageResponse represents the response structure for an inbound message
type MessageResponse struct {
	ID               uint      `json:"id"`
	Subject          string    `json:"subject"`
	Body             string    `json:"body,omitempty"`
	HTMLBody         string    `json:"html_body,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Sender           string    `json:"sender"`
	Receiver         string    `json:"receiver"`
	ReceiverUnparsed string    `json:"receiver_unparsed,omitempty"`
	MessageIngoing   bool      `json:"message_ingoing"`
	Status           int       `json:"status"`
	StatusLabel      string    `json:"status_label"`
	TenantID         *uint     `json:"tenant_id"`
	CustomerID       *uint     `json:"customer_id"`
	EventID          *uint     `json:"event_id"`
	Attachments      []string  `json:"attachments"`
}

// NewMessageResponse converts a stored message to its API representation
func NewMessageResponse(m InboundMessage, withBodies bool) MessageResponse {
	resp := MessageResponse{
		ID:               m.ID,
		Subject:          m.Subject,
		Timestamp:        m.Timestamp,
		Sender:           m.Sender,
		Receiver:         m.Receiver,
		ReceiverUnparsed: m.ReceiverUnparsed,
		MessageIngoing:   m.MessageIngoing,
		Status:           m.Status,
		StatusLabel:      StatusLabel(m.Status),
		TenantID:         m.TenantID,
		CustomerID:       m.CustomerID,
		EventID:          m.EventID,
		Attachments:      m.AttachmentPaths(),
	}
	if withBodies {
		resp.Body = m.Body
		resp.HTMLBody = m.HTMLBody
	}
	return resp
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Mailbox   string            `json:"mailbox"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
