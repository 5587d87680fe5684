package assigner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/db/dbtest"
	"calentian-mail-pipeline/internal/metrics"
	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/notifier"
	"calentian-mail-pipeline/internal/repository"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []notifier.StatusEvent
}

func (p *capturePublisher) Publish(_ context.Context, e notifier.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type workerFixture struct {
	db        *gorm.DB
	messages  *repository.MessageRepository
	publisher *capturePublisher
	worker    *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	db := dbtest.New(t)

	require.NoError(t, db.Create(&models.TenantMailAddress{Email: "bookings@venue.example", TenantID: 5}).Error)
	require.NoError(t, db.Create(&models.CustomerAddress{Email: "jane@customer.example", CustomerID: 11, IsPrimary: true}).Error)
	require.NoError(t, db.Create(&models.EventEntry{ID: 10, LocationID: uintPtr(5)}).Error)
	require.NoError(t, db.Create(&models.EventEntry{ID: 20, LocationID: uintPtr(6)}).Error)

	messages := repository.NewMessageRepository(db)
	publisher := &capturePublisher{}
	worker := NewWorker(time.Hour, messages, repository.NewDirectoryRepository(db), publisher,
		metrics.NewMetrics(prometheus.NewRegistry()))

	return &workerFixture{db: db, messages: messages, publisher: publisher, worker: worker}
}

func (f *workerFixture) insert(t *testing.T, subject, sender string) uint {
	t.Helper()
	msg, err := f.messages.InsertInbound(context.Background(), repository.NewInbound{
		Subject:  subject,
		Sender:   sender,
		Receiver: "bookings@venue.example",
	})
	require.NoError(t, err)
	return msg.ID
}

func (f *workerFixture) get(t *testing.T, id uint) *models.InboundMessage {
	t.Helper()
	msg, err := f.messages.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func TestPassClassifiesScenarios(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	a := f.insert(t, "Question", "jane@customer.example")
	b := f.insert(t, "Re: Event-ID: 10 menu", "stranger@example.com")
	c := f.insert(t, "Re: Event-ID: 20 menu", "jane@customer.example")

	result, err := f.worker.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 3, result.Classified)

	msgA := f.get(t, a)
	assert.Equal(t, models.StatusCustomerOnly, msgA.Status)
	require.NotNil(t, msgA.TenantID)
	assert.Equal(t, uint(5), *msgA.TenantID)
	require.NotNil(t, msgA.CustomerID)
	assert.Equal(t, uint(11), *msgA.CustomerID)

	msgB := f.get(t, b)
	assert.Equal(t, models.StatusEventNoCustomer, msgB.Status)
	assert.Nil(t, msgB.CustomerID)

	msgC := f.get(t, c)
	assert.Equal(t, models.StatusCustomerOnly, msgC.Status)

	pending, err := f.messages.ListUnclassified(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Equal(t, 3, f.publisher.count())
	assert.Equal(t, a, f.publisher.events[0].MessageID)
	assert.Equal(t, models.StatusCustomerOnly, f.publisher.events[0].NewStatus)
	require.NotNil(t, f.publisher.events[0].TenantID)
	assert.Equal(t, uint(5), *f.publisher.events[0].TenantID)
}

func TestPassIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	id := f.insert(t, "Question", "jane@customer.example")

	_, err := f.worker.Pass(ctx)
	require.NoError(t, err)
	before := f.get(t, id)

	// a CRM change after classification must not rewrite the row
	require.NoError(t, f.db.Model(&models.CustomerAddress{}).Where("email = ?", "jane@customer.example").Update("customer_id", 12).Error)

	result, err := f.worker.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)

	after := f.get(t, id)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, *before.CustomerID, *after.CustomerID)
	assert.Equal(t, 1, f.publisher.count())
}

type racingStore struct {
	*repository.MessageRepository
}

func (s racingStore) ApplyClassification(ctx context.Context, id uint, c repository.Classification) (bool, error) {
	// another writer classifies the row first
	if _, err := s.MessageRepository.ApplyClassification(ctx, id, repository.Classification{Status: models.StatusUnmatched}); err != nil {
		return false, err
	}
	return s.MessageRepository.ApplyClassification(ctx, id, c)
}

func TestPassSkipsNotificationWhenRowAlreadyClassified(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.insert(t, "Question", "jane@customer.example")
	f.worker.store = racingStore{f.messages}

	result, err := f.worker.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, f.publisher.count())
	assert.Equal(t, models.StatusUnmatched, f.get(t, id).Status)
}

type brokenDirectory struct{}

func (brokenDirectory) TenantByAddress(context.Context, string) (*uint, error) {
	return nil, errors.New("directory unavailable")
}
func (brokenDirectory) CustomerByAddress(context.Context, string) (*uint, error) { return nil, nil }
func (brokenDirectory) EventOwner(context.Context, uint) (*uint, error)          { return nil, nil }

func TestPassLeavesMessageUnclassifiedOnError(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.insert(t, "Question", "jane@customer.example")
	f.worker.directory = brokenDirectory{}

	result, err := f.worker.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, models.StatusUnclassified, f.get(t, id).Status)
	assert.Equal(t, 0, f.publisher.count())
	assert.Equal(t, result, f.worker.LastResult())
}

func TestWorkerRestart(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, f.worker.Start())
	assert.True(t, f.worker.IsRunning())
	assert.Error(t, f.worker.Start(), "double start is rejected")
	assert.False(t, f.worker.GetNextRun().IsZero())

	require.NoError(t, f.worker.Stop())
	assert.False(t, f.worker.IsRunning())
	assert.True(t, f.worker.GetNextRun().IsZero())

	require.NoError(t, f.worker.Start())
	assert.True(t, f.worker.IsRunning())
	assert.NoError(t, f.worker.ctx.Err(), "context is fresh after restart")
	require.NoError(t, f.worker.Stop())
}

func TestWorkerRunOnceWhileStopped(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.insert(t, "Question", "jane@customer.example")

	result, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Classified)
	assert.Equal(t, models.StatusCustomerOnly, f.get(t, id).Status)
	assert.False(t, f.worker.GetLastRun().IsZero())
}
