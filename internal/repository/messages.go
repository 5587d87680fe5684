package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/parser"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("record not found")

// NewInbound holds the fields of a freshly parsed inbound email
type NewInbound struct {
	UID              uint32
	Subject          string
	Body             string
	HTMLBody         string
	Timestamp        time.Time
	Sender           string
	Receiver         string
	ReceiverUnparsed string
	Attachments      []string
}

// Classification is the outcome of one assignment decision
type Classification struct {
	Status     int
	TenantID   *uint
	CustomerID *uint
}

// MessageFilter narrows a message listing
type MessageFilter struct {
	Status   *int
	TenantID *uint
	Page     int
	Limit    int
}

// MessageRepository reads and writes the email_messages table
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// InsertInbound stores a new inbound message as unclassified
func (r *MessageRepository) InsertInbound(ctx context.Context, in NewInbound) (*models.InboundMessage, error) {
	attachments, err := encodeAttachments(in.Attachments)
	if err != nil {
		return nil, err
	}

	msg := models.InboundMessage{
		Subject:          in.Subject,
		Body:             in.Body,
		HTMLBody:         in.HTMLBody,
		Timestamp:        in.Timestamp,
		Sender:           in.Sender,
		Receiver:         in.Receiver,
		ReceiverUnparsed: in.ReceiverUnparsed,
		MessageIngoing:   true,
		Status:           models.StatusUnclassified,
		EventID:          parser.ExtractEventID(in.Subject),
		Attachments:      attachments,
	}

	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"uid":        in.UID,
		"message_id": msg.ID,
		"event_id":   msg.EventID,
	}).Info("Persisted inbound message")

	return &msg, nil
}

// ListUnclassified returns messages still at status 0 in id order.
// A limit of 0 returns all of them.
func (r *MessageRepository) ListUnclassified(ctx context.Context, limit int) ([]models.InboundMessage, error) {
	var messages []models.InboundMessage
	query := r.db.WithContext(ctx).
		Where("status = ?", models.StatusUnclassified).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list unclassified messages: %w", err)
	}
	return messages, nil
}

// ApplyClassification writes a terminal status only if the row is still
// unclassified. It reports whether this call performed the transition.
func (r *MessageRepository) ApplyClassification(ctx context.Context, id uint, c Classification) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.InboundMessage{}).
		Where("id = ? AND status = ?", id, models.StatusUnclassified).
		Updates(map[string]interface{}{
			"status":      c.Status,
			"tenant_id":   c.TenantID,
			"customer_id": c.CustomerID,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update message %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetMessage returns one message by id
func (r *MessageRepository) GetMessage(ctx context.Context, id uint) (*models.InboundMessage, error) {
	var msg models.InboundMessage
	err := r.db.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &msg, nil
}

// ListMessages returns one page of messages, newest first, and the total count
func (r *MessageRepository) ListMessages(ctx context.Context, filter MessageFilter) ([]models.InboundMessage, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.InboundMessage{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	var messages []models.InboundMessage
	err := query.Order("id DESC").Offset((page - 1) * limit).Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// CountByStatus returns the number of messages per status code
func (r *MessageRepository) CountByStatus(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		Status int
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.InboundMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by status: %w", err)
	}

	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func encodeAttachments(paths []string) (*string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	s := string(data)
	return &s, nil
}
