package mailbox

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/config"
)

// ErrMessageNotFound is returned by Fetch when the UID is not in the selected folder
var ErrMessageNotFound = errors.New("message not found")

// RawMessage is the full source of one mailbox message
type RawMessage struct {
	UID          uint32
	Raw          []byte
	InternalDate time.Time
}

// Session is a logged-in connection to the inbound mailbox
type Session interface {
	// Open selects a folder read-write
	Open(folder string) error
	// Search returns every UID in the selected folder
	Search() ([]uint32, error)
	Fetch(uid uint32) (*RawMessage, error)
	Move(uid uint32, folder string) error
	CloseMailbox() error
	// Done is closed when the server ends the session
	Done() <-chan struct{}
	Logout() error
}

// IMAPSession implements Session using go-imap
type IMAPSession struct {
	client *client.Client
}

// Dial connects and logs in to the configured IMAP server
func Dial(cfg config.IMAPConfig) (*IMAPSession, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var (
		c   *client.Client
		err error
	)
	if cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, cfg.Addr(), tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if !cfg.TLS && cfg.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if err := c.Login(cfg.User, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host": cfg.Host,
		"user": cfg.User,
	}).Info("Connected to IMAP server")

	return &IMAPSession{client: c}, nil
}

// Open selects the folder read-write
func (s *IMAPSession) Open(folder string) error {
	if _, err := s.client.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}
	return nil
}

// Search returns all UIDs in the selected folder
func (s *IMAPSession) Search() ([]uint32, error) {
	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return uids, nil
}

// Fetch downloads the full source of one message
func (s *IMAPSession) Fetch(uid uint32) (*RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var result *RawMessage
	var readErr error
	for msg := range messages {
		if result != nil || msg.Uid != uid {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			readErr = fmt.Errorf("no body returned for uid %d", uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("failed to read body of uid %d: %w", uid, err)
			continue
		}
		result = &RawMessage{UID: uid, Raw: raw, InternalDate: msg.InternalDate}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
	}
	if result != nil {
		return result, nil
	}
	if readErr != nil {
		return nil, readErr
	}
	return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
}

// Move relocates one message to the destination folder
func (s *IMAPSession) Move(uid uint32, folder string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := s.client.UidMove(seqset, folder); err != nil {
		return fmt.Errorf("failed to move uid %d to %s: %w", uid, folder, err)
	}
	return nil
}

// CloseMailbox closes the selected folder
func (s *IMAPSession) CloseMailbox() error {
	return s.client.Close()
}

// Done is closed once the connection is logged out or dropped
func (s *IMAPSession) Done() <-chan struct{} {
	return s.client.LoggedOut()
}

// Logout ends the session
func (s *IMAPSession) Logout() error {
	return s.client.Logout()
}
