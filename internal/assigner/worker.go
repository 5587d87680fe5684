package assigner

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/metrics"
	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/notifier"
	"calentian-mail-pipeline/internal/repository"
)

// MessageStore is the message table as seen by the worker
type MessageStore interface {
	ListUnclassified(ctx context.Context, limit int) ([]models.InboundMessage, error)
	ApplyClassification(ctx context.Context, id uint, c repository.Classification) (bool, error)
}

// PassResult summarizes one assignment pass
type PassResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	Classified int           `json:"classified"`
	Conflicts  int           `json:"conflicts"`
	Errors     int           `json:"errors"`
}

// Worker classifies unclassified messages on a fixed interval
type Worker struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	interval  time.Duration
	store     MessageStore
	directory Directory
	publisher notifier.Publisher
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	passMu    sync.Mutex
	isRunning bool
	last      PassResult
	mu        sync.RWMutex
}

// NewWorker creates a stopped worker. publisher may be nil.
func NewWorker(interval time.Duration, store MessageStore, directory Directory, publisher notifier.Publisher, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		interval:  interval,
		store:     store,
		directory: directory,
		publisher: publisher,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules a pass every interval
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("assignment worker is already running")
	}

	if w.ctx.Err() != nil {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	}

	w.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
	))
	schedule := fmt.Sprintf("@every %s", w.interval)

	entryID, err := w.cron.AddFunc(schedule, w.scheduledPass)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	w.entryID = entryID
	w.cron.Start()
	w.isRunning = true

	logrus.Infof("Assignment worker started with interval: %s", w.interval)
	return nil
}

// Stop cancels any running pass and waits for it to return
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.cancel()
	c := w.cron
	w.isRunning = false
	w.mu.Unlock()

	ctx := c.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Assignment worker stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Assignment worker stop timeout, forcing shutdown")
	}

	return nil
}

// IsRunning returns whether passes are scheduled
func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// RunOnce runs a pass immediately, waiting for any scheduled pass to finish first
func (w *Worker) RunOnce(ctx context.Context) (PassResult, error) {
	logrus.Info("Running assignment pass once")
	return w.Pass(ctx)
}

// GetNextRun returns the time of the next scheduled pass
func (w *Worker) GetNextRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.isRunning {
		return time.Time{}
	}
	return w.cron.Entry(w.entryID).Next
}

// GetLastRun returns the start time of the last pass
func (w *Worker) GetLastRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last.StartedAt
}

// LastResult returns the summary of the last pass
func (w *Worker) LastResult() PassResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Wait waits for in-flight passes to return
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) scheduledPass() {
	w.mu.RLock()
	if !w.isRunning {
		w.mu.RUnlock()
		logrus.Info("Assignment worker not running, skipping pass")
		return
	}
	ctx := w.ctx
	w.mu.RUnlock()

	if _, err := w.Pass(ctx); err != nil {
		logrus.Errorf("Assignment pass failed: %v", err)
	}
}

// Pass classifies every message currently at status 0. Per-message errors
// leave that message unclassified for the next pass.
func (w *Worker) Pass(ctx context.Context) (result PassResult, err error) {
	w.wg.Add(1)
	defer w.wg.Done()

	w.passMu.Lock()
	defer w.passMu.Unlock()

	result = PassResult{StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		w.mu.Lock()
		w.last = result
		w.mu.Unlock()
		w.metrics.AssignmentDuration.Observe(result.Duration.Seconds())
	}()

	messages, err := w.store.ListUnclassified(ctx, 0)
	if err != nil {
		return result, fmt.Errorf("failed to scan unclassified messages: %w", err)
	}
	result.Scanned = len(messages)

	for i := range messages {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		applied, err := w.assign(ctx, &messages[i])
		switch {
		case err != nil:
			result.Errors++
			w.metrics.AssignmentErrors.Inc()
			logrus.WithError(err).WithField("message_id", messages[i].ID).Error("Failed to classify message")
		case applied:
			result.Classified++
		default:
			result.Conflicts++
			w.metrics.AssignmentConflicts.Inc()
		}
	}

	if result.Scanned > 0 {
		logrus.WithFields(logrus.Fields{
			"scanned":    result.Scanned,
			"classified": result.Classified,
			"conflicts":  result.Conflicts,
			"errors":     result.Errors,
		}).Info("Assignment pass completed")
	}
	return result, nil
}

func (w *Worker) assign(ctx context.Context, msg *models.InboundMessage) (bool, error) {
	decision, err := Classify(ctx, SnapshotOf(msg), w.directory)
	if err != nil {
		return false, err
	}

	applied, err := w.store.ApplyClassification(ctx, msg.ID, repository.Classification{
		Status:     decision.Status,
		TenantID:   decision.TenantID,
		CustomerID: decision.CustomerID,
	})
	if err != nil {
		return false, err
	}

	fields := logrus.Fields{"message_id": msg.ID, "status": decision.Status}
	if !applied {
		logrus.WithFields(fields).Warn("Message already classified by another writer, skipping")
		return false, nil
	}

	w.metrics.Classifications.WithLabelValues(strconv.Itoa(decision.Status)).Inc()
	logrus.WithFields(fields).Debug("Classified message")

	if w.publisher != nil {
		event := notifier.StatusEvent{
			MessageID:  msg.ID,
			NewStatus:  decision.Status,
			TenantID:   decision.TenantID,
			CustomerID: decision.CustomerID,
		}
		if err := w.publisher.Publish(ctx, event); err != nil {
			logrus.WithError(err).WithFields(fields).Warn("Failed to publish status change")
		}
	}
	return true, nil
}
