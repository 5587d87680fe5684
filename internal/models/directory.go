package models

// CustomerAddress maps an email address to a CRM customer.
// Owned by the CRM service; read-only here.
type CustomerAddress struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Email      string `json:"email" gorm:"type:varchar(320);not null;index"`
	CustomerID uint   `json:"customer_id" gorm:"not null;index"`
	IsPrimary  bool   `json:"is_primary" gorm:"default:false"`
}

// TableName specifies the table name for CustomerAddress
func (CustomerAddress) TableName() string {
	return "customer_email_addresses"
}

// TenantMailAddress maps a tenant's designated inbound address to the tenant
type TenantMailAddress struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Email    string `json:"email" gorm:"type:varchar(320);not null;uniqueIndex"`
	TenantID uint   `json:"tenant_id" gorm:"not null;index"`
}

// TableName specifies the table name for TenantMailAddress
func (TenantMailAddress) TableName() string {
	return "tenant_mail_addresses"
}

// EventEntry exposes the owning tenant (location) of an event
type EventEntry struct {
	ID         uint  `json:"id" gorm:"primaryKey"`
	LocationID *uint `json:"location_id" gorm:"index"`
}

// TableName specifies the table name for EventEntry
func (EventEntry) TableName() string {
	return "event_entries"
}
