package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/mailbox"
	"calentian-mail-pipeline/internal/metrics"
	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/parser"
	"calentian-mail-pipeline/internal/repository"
)

// ErrSessionEnded is returned by Run when the server terminates the mailbox session
var ErrSessionEnded = errors.New("mailbox session ended")

// State is the poller's position in the ingest cycle
type State string

const (
	StateIdle            State = "IDLE"
	StateMailboxOpen     State = "MAILBOX_OPEN"
	StateSearching       State = "SEARCHING"
	StateMessageSelected State = "MESSAGE_SELECTED"
	StateFetching        State = "FETCHING"
	StateParsing         State = "PARSING"
	StatePersisting      State = "PERSISTING"
	StateRelocating      State = "RELOCATING"
)

// AttachmentSaver stores the attachments of one message
type AttachmentSaver interface {
	Save(messageKey string, attachments []parser.Attachment) ([]string, error)
	// Remove deletes files returned by an earlier Save
	Remove(paths []string) error
}

// MessageStore persists parsed messages
type MessageStore interface {
	InsertInbound(ctx context.Context, in repository.NewInbound) (*models.InboundMessage, error)
}

// Config controls folders and pacing
type Config struct {
	Mailbox      string
	DoneFolder   string
	FailedFolder string
	BusyDelay    time.Duration
	IdleDelay    time.Duration
	ErrorDelay   time.Duration
	MoveTimeout  time.Duration
}

// Status is a snapshot of the poller for the status endpoint
type Status struct {
	Running   bool      `json:"running"`
	State     State     `json:"state"`
	LastUID   uint32    `json:"last_uid"`
	LastCycle time.Time `json:"last_cycle"`
	Ingested  uint64    `json:"ingested"`
	Failed    uint64    `json:"failed"`
}

// Poller drains one mailbox into the message table, newest UID first
type Poller struct {
	session     mailbox.Session
	attachments AttachmentSaver
	messages    MessageStore
	config      Config
	metrics     *metrics.Metrics
	now         func() time.Time

	mu        sync.RWMutex
	running   bool
	state     State
	lastUID   uint32
	lastCycle time.Time
	ingested  uint64
	failed    uint64
}

// New creates a poller over an authenticated session
func New(session mailbox.Session, attachments AttachmentSaver, messages MessageStore, cfg Config, m *metrics.Metrics) *Poller {
	return &Poller{
		session:     session,
		attachments: attachments,
		messages:    messages,
		config:      cfg,
		metrics:     m,
		now:         time.Now,
		state:       StateIdle,
	}
}

// Run executes cycles until ctx is cancelled or the session ends.
// Cancellation returns nil; a server-side disconnect returns ErrSessionEnded.
func (p *Poller) Run(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)

	logrus.WithField("mailbox", p.config.Mailbox).Info("Mailbox poller started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Mailbox poller stopped")
			return nil
		case <-p.session.Done():
			logrus.Error("Mailbox session ended by server")
			return ErrSessionEnded
		default:
		}

		delay := p.Cycle(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Mailbox poller stopped")
			return nil
		case <-p.session.Done():
			timer.Stop()
			logrus.Error("Mailbox session ended by server")
			return ErrSessionEnded
		case <-timer.C:
		}
	}
}

// Cycle processes at most one message and returns how long to wait before the next cycle
func (p *Poller) Cycle(ctx context.Context) time.Duration {
	start := p.now()
	defer func() {
		p.mu.Lock()
		p.state = StateIdle
		p.lastCycle = start
		p.mu.Unlock()
		p.metrics.PollCycles.Inc()
		p.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	p.setState(StateMailboxOpen)
	if err := p.session.Open(p.config.Mailbox); err != nil {
		logrus.WithError(err).WithField("folder", p.config.Mailbox).Error("Failed to open mailbox")
		p.metrics.PollErrors.Inc()
		return p.config.ErrorDelay
	}

	p.setState(StateSearching)
	uids, err := p.session.Search()
	if err != nil {
		logrus.WithError(err).Error("Failed to search mailbox")
		p.metrics.PollErrors.Inc()
		p.closeMailbox()
		return p.config.ErrorDelay
	}

	if len(uids) == 0 {
		logrus.Debug("Mailbox is empty")
		p.closeMailbox()
		return p.config.IdleDelay
	}

	uid := maxUID(uids)
	p.setState(StateMessageSelected)
	p.metrics.MessagesPolled.Inc()

	dest := p.config.DoneFolder
	if err := p.ingest(ctx, uid); err != nil {
		if ctx.Err() != nil {
			// shutdown interrupted the ingest; the message stays for the next start
			logrus.WithError(err).WithField("uid", uid).Warn("Ingest interrupted by shutdown, leaving message in mailbox")
			p.closeMailbox()
			return p.config.BusyDelay
		}
		logrus.WithError(err).WithField("uid", uid).Error("Failed to ingest message")
		p.metrics.MessagesFailed.Inc()
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		dest = p.config.FailedFolder
	} else {
		p.metrics.MessagesPersisted.Inc()
		p.mu.Lock()
		p.ingested++
		p.mu.Unlock()
	}

	p.setState(StateRelocating)
	p.relocate(ctx, uid, dest)

	p.mu.Lock()
	p.lastUID = uid
	p.mu.Unlock()

	p.closeMailbox()
	return p.config.BusyDelay
}

func (p *Poller) ingest(ctx context.Context, uid uint32) error {
	p.setState(StateFetching)
	raw, err := p.session.Fetch(uid)
	if err != nil {
		return err
	}

	p.setState(StateParsing)
	fallback := raw.InternalDate
	if fallback.IsZero() {
		fallback = p.now()
	}
	msg, err := parser.Parse(raw.Raw, fallback)
	if err != nil {
		return err
	}

	p.setState(StatePersisting)
	var paths []string
	if len(msg.Attachments) > 0 {
		paths, err = p.attachments.Save(messageKey(msg, uid), msg.Attachments)
		if err != nil {
			return err
		}
		p.metrics.AttachmentsStored.Add(float64(len(paths)))
	}

	if _, err = p.messages.InsertInbound(ctx, repository.NewInbound{
		UID:              uid,
		Subject:          msg.Subject,
		Body:             msg.Text,
		HTMLBody:         msg.HTML,
		Timestamp:        msg.Date,
		Sender:           msg.From,
		Receiver:         msg.To,
		ReceiverUnparsed: msg.ToUnparsed,
		Attachments:      paths,
	}); err != nil {
		if len(paths) > 0 {
			if rmErr := p.attachments.Remove(paths); rmErr != nil {
				logrus.WithError(rmErr).WithField("uid", uid).Warn("Failed to remove attachments of unsaved message")
			}
		}
		return err
	}
	return nil
}

// relocate waits for the move at most MoveTimeout, then carries on regardless
func (p *Poller) relocate(ctx context.Context, uid uint32, folder string) {
	done := make(chan error, 1)
	go func() {
		done <- p.session.Move(uid, folder)
	}()

	timer := time.NewTimer(p.config.MoveTimeout)
	defer timer.Stop()

	fields := logrus.Fields{"uid": uid, "folder": folder}
	select {
	case err := <-done:
		if err != nil {
			logrus.WithError(err).WithFields(fields).Error("Failed to relocate message")
			return
		}
		p.metrics.Relocations.WithLabelValues(folder).Inc()
		logrus.WithFields(fields).Info("Relocated message")
	case <-timer.C:
		p.metrics.RelocationTimeouts.Inc()
		logrus.WithFields(fields).Warn("Relocation not acknowledged in time, continuing")
	case <-ctx.Done():
	}
}

func (p *Poller) closeMailbox() {
	if err := p.session.CloseMailbox(); err != nil {
		logrus.WithError(err).Warn("Failed to close mailbox")
	}
}

// Status returns the current poller snapshot
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		Running:   p.running,
		State:     p.state,
		LastUID:   p.lastUID,
		LastCycle: p.lastCycle,
		Ingested:  p.ingested,
		Failed:    p.failed,
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) setRunning(running bool) {
	p.mu.Lock()
	p.running = running
	p.mu.Unlock()
}

func maxUID(uids []uint32) uint32 {
	max := uids[0]
	for _, uid := range uids[1:] {
		if uid > max {
			max = uid
		}
	}
	return max
}

func messageKey(msg *parser.Message, uid uint32) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	return strconv.FormatUint(uint64(uid), 10)
}

// String renders the config for startup logging
func (c Config) String() string {
	return fmt.Sprintf("mailbox=%s done=%s failed=%s busy=%s idle=%s error=%s move_timeout=%s",
		c.Mailbox, c.DoneFolder, c.FailedFolder, c.BusyDelay, c.IdleDelay, c.ErrorDelay, c.MoveTimeout)
}
