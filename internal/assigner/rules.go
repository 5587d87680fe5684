package assigner

import (
	"context"
	"fmt"

	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/parser"
)

// Directory resolves addresses and events to CRM ids.
// A nil id with a nil error means no match.
type Directory interface {
	TenantByAddress(ctx context.Context, email string) (*uint, error)
	CustomerByAddress(ctx context.Context, email string) (*uint, error)
	EventOwner(ctx context.Context, eventID uint) (*uint, error)
}

// Snapshot is the part of a message row the decision chain reads
type Snapshot struct {
	ID               uint
	Sender           string
	Receiver         string
	ReceiverUnparsed string
	Ingoing          bool
	TenantID         *uint
	CustomerID       *uint
	EventID          *uint
}

// Decision is the terminal classification of one message
type Decision struct {
	Status     int
	TenantID   *uint
	CustomerID *uint
}

// SnapshotOf copies the decision inputs out of a stored message
func SnapshotOf(m *models.InboundMessage) Snapshot {
	return Snapshot{
		ID:               m.ID,
		Sender:           m.Sender,
		Receiver:         m.Receiver,
		ReceiverUnparsed: m.ReceiverUnparsed,
		Ingoing:          m.MessageIngoing,
		TenantID:         m.TenantID,
		CustomerID:       m.CustomerID,
		EventID:          m.EventID,
	}
}

// Classify runs the tenant, event and customer decision chain for one message.
// It performs lookups only and never writes.
func Classify(ctx context.Context, snap Snapshot, dir Directory) (Decision, error) {
	d := Decision{TenantID: snap.TenantID, CustomerID: snap.CustomerID}

	tenant, err := resolveTenant(ctx, snap, dir)
	if err != nil {
		return Decision{}, err
	}
	if tenant != nil {
		d.TenantID = tenant
	}

	if snap.EventID != nil {
		owner, err := dir.EventOwner(ctx, *snap.EventID)
		if err != nil {
			return Decision{}, fmt.Errorf("event owner lookup: %w", err)
		}
		if sameID(owner, d.TenantID) {
			if d.CustomerID != nil {
				d.Status = models.StatusEventAndCustomer
				return d, nil
			}
			customer, err := dir.CustomerByAddress(ctx, counterparty(snap))
			if err != nil {
				return Decision{}, fmt.Errorf("customer lookup: %w", err)
			}
			if customer != nil {
				d.CustomerID = customer
				d.Status = models.StatusEventAndCustomer
				return d, nil
			}
			d.Status = models.StatusEventNoCustomer
			return d, nil
		}
	}

	if d.CustomerID != nil {
		d.Status = models.StatusCustomerOnly
		return d, nil
	}
	customer, err := dir.CustomerByAddress(ctx, counterparty(snap))
	if err != nil {
		return Decision{}, fmt.Errorf("customer lookup: %w", err)
	}
	if customer != nil {
		d.CustomerID = customer
		d.Status = models.StatusCustomerOnly
		return d, nil
	}
	d.Status = models.StatusUnmatched
	return d, nil
}

// resolveTenant tries the receiver, then every address in the raw receiver header
func resolveTenant(ctx context.Context, snap Snapshot, dir Directory) (*uint, error) {
	tried := map[string]bool{}
	candidates := append([]string{parser.NormalizeAddress(snap.Receiver)}, parser.SplitAddresses(snap.ReceiverUnparsed)...)

	for _, addr := range candidates {
		if addr == "" || tried[addr] {
			continue
		}
		tried[addr] = true

		tenant, err := dir.TenantByAddress(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("tenant lookup: %w", err)
		}
		if tenant != nil {
			return tenant, nil
		}
	}
	return nil, nil
}

// counterparty is the address on the other side from the tenant
func counterparty(snap Snapshot) string {
	if snap.Ingoing {
		return snap.Sender
	}
	return snap.Receiver
}

// sameID is false when either side is unknown
func sameID(a, b *uint) bool {
	return a != nil && b != nil && *a == *b
}
