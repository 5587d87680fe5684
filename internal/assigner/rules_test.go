package assigner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calentian-mail-pipeline/internal/models"
)

func uintPtr(v uint) *uint { return &v }

type fakeDirectory struct {
	tenants   map[string]uint
	customers map[string]uint
	events    map[uint]*uint
	err       error
	calls     int
}

func (d *fakeDirectory) TenantByAddress(_ context.Context, email string) (*uint, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if id, ok := d.tenants[email]; ok {
		return &id, nil
	}
	return nil, nil
}

func (d *fakeDirectory) CustomerByAddress(_ context.Context, email string) (*uint, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if id, ok := d.customers[email]; ok {
		return &id, nil
	}
	return nil, nil
}

func (d *fakeDirectory) EventOwner(_ context.Context, eventID uint) (*uint, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.events[eventID], nil
}

func venueDirectory() *fakeDirectory {
	return &fakeDirectory{
		tenants:   map[string]uint{"bookings@venue.example": 5},
		customers: map[string]uint{"jane@customer.example": 11},
		events:    map[uint]*uint{10: uintPtr(5), 20: uintPtr(6), 30: nil},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		snap         Snapshot
		wantStatus   int
		wantTenant   *uint
		wantCustomer *uint
	}{
		{
			name:         "tenant and customer without event",
			snap:         Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "jane@customer.example"},
			wantStatus:   models.StatusCustomerOnly,
			wantTenant:   uintPtr(5),
			wantCustomer: uintPtr(11),
		},
		{
			name:       "event of same tenant without known customer",
			snap:       Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "stranger@example.com", EventID: uintPtr(10)},
			wantStatus: models.StatusEventNoCustomer,
			wantTenant: uintPtr(5),
		},
		{
			name:         "event of another tenant falls through",
			snap:         Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "jane@customer.example", EventID: uintPtr(20)},
			wantStatus:   models.StatusCustomerOnly,
			wantTenant:   uintPtr(5),
			wantCustomer: uintPtr(11),
		},
		{
			name:         "event of same tenant with customer lookup hit",
			snap:         Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "jane@customer.example", EventID: uintPtr(10)},
			wantStatus:   models.StatusEventAndCustomer,
			wantTenant:   uintPtr(5),
			wantCustomer: uintPtr(11),
		},
		{
			name:         "event of same tenant with customer already set",
			snap:         Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "stranger@example.com", EventID: uintPtr(10), CustomerID: uintPtr(99)},
			wantStatus:   models.StatusEventAndCustomer,
			wantTenant:   uintPtr(5),
			wantCustomer: uintPtr(99),
		},
		{
			name:         "customer already set without event",
			snap:         Snapshot{Ingoing: true, Receiver: "other@venue.example", Sender: "stranger@example.com", CustomerID: uintPtr(99)},
			wantStatus:   models.StatusCustomerOnly,
			wantCustomer: uintPtr(99),
		},
		{
			name:       "nothing matches",
			snap:       Snapshot{Ingoing: true, Receiver: "other@venue.example", Sender: "stranger@example.com"},
			wantStatus: models.StatusUnmatched,
		},
		{
			name:       "unknown tenant keeps existing tenant",
			snap:       Snapshot{Ingoing: true, Receiver: "other@venue.example", Sender: "stranger@example.com", TenantID: uintPtr(8)},
			wantStatus: models.StatusUnmatched,
			wantTenant: uintPtr(8),
		},
		{
			name:       "event owner and tenant both unknown never match",
			snap:       Snapshot{Ingoing: true, Receiver: "other@venue.example", Sender: "stranger@example.com", EventID: uintPtr(30)},
			wantStatus: models.StatusUnmatched,
		},
		{
			name:       "missing event is treated as mismatch",
			snap:       Snapshot{Ingoing: true, Receiver: "bookings@venue.example", Sender: "stranger@example.com", EventID: uintPtr(404)},
			wantStatus: models.StatusUnmatched,
			wantTenant: uintPtr(5),
		},
		{
			name:         "outbound uses receiver as counterparty",
			snap:         Snapshot{Ingoing: false, Receiver: "jane@customer.example", Sender: "bookings@venue.example"},
			wantStatus:   models.StatusCustomerOnly,
			wantCustomer: uintPtr(11),
		},
		{
			name: "tenant found through raw receiver header",
			snap: Snapshot{
				Ingoing:          true,
				Receiver:         "someone@else.example",
				ReceiverUnparsed: "Someone <someone@else.example>, Venue <Bookings@Venue.example>",
				Sender:           "jane@customer.example",
				EventID:          uintPtr(10),
			},
			wantStatus:   models.StatusEventAndCustomer,
			wantTenant:   uintPtr(5),
			wantCustomer: uintPtr(11),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Classify(context.Background(), tt.snap, venueDirectory())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantTenant, d.TenantID)
			assert.Equal(t, tt.wantCustomer, d.CustomerID)
		})
	}
}

func TestClassifyPropagatesLookupErrors(t *testing.T) {
	dir := venueDirectory()
	dir.err = errors.New("connection refused")

	_, err := Classify(context.Background(), Snapshot{Receiver: "bookings@venue.example"}, dir)
	assert.Error(t, err)
}

func TestCachedDirectoryCachesHitsOnly(t *testing.T) {
	inner := venueDirectory()
	cached := NewCachedDirectory(inner, time.Minute)
	defer cached.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := cached.TenantByAddress(ctx, "Bookings@Venue.example")
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, uint(5), *id)
	}
	assert.Equal(t, 1, inner.calls)

	for i := 0; i < 2; i++ {
		id, err := cached.CustomerByAddress(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, id)
	}
	assert.Equal(t, 3, inner.calls, "misses are not cached")

	inner.customers["nobody@example.com"] = 77
	id, err := cached.CustomerByAddress(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, uint(77), *id)

	owner, err := cached.EventOwner(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, owner)
	_, err = cached.EventOwner(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, inner.calls)
}

func TestCachedDirectoryExpiresHits(t *testing.T) {
	inner := venueDirectory()
	cached := NewCachedDirectory(inner, 20*time.Millisecond)
	defer cached.Close()
	ctx := context.Background()

	_, err := cached.TenantByAddress(ctx, "bookings@venue.example")
	require.NoError(t, err)
	_, err = cached.TenantByAddress(ctx, "bookings@venue.example")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	time.Sleep(60 * time.Millisecond)

	_, err = cached.TenantByAddress(ctx, "bookings@venue.example")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "expired hits are looked up again")
}
