package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/models"
)

// DirectoryRepository resolves addresses and events against the CRM tables.
// A nil id with a nil error means no match.
type DirectoryRepository struct {
	db *gorm.DB
}

// NewDirectoryRepository creates a directory repository
func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// TenantByAddress returns the tenant whose inbound address matches email
func (r *DirectoryRepository) TenantByAddress(ctx context.Context, email string) (*uint, error) {
	email = normalize(email)
	if email == "" {
		return nil, nil
	}

	var entry models.TenantMailAddress
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", email).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant address: %w", err)
	}
	return &entry.TenantID, nil
}

// CustomerByAddress returns the customer owning email, preferring primary addresses
func (r *DirectoryRepository) CustomerByAddress(ctx context.Context, email string) (*uint, error) {
	email = normalize(email)
	if email == "" {
		return nil, nil
	}

	var entry models.CustomerAddress
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", email).
		Order("is_primary DESC").
		Order("id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer address: %w", err)
	}
	return &entry.CustomerID, nil
}

// EventOwner returns the tenant that owns the event
func (r *DirectoryRepository) EventOwner(ctx context.Context, eventID uint) (*uint, error) {
	var event models.EventEntry
	err := r.db.WithContext(ctx).First(&event, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up event %d: %w", eventID, err)
	}
	return event.LocationID, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
