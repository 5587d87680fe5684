package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/assigner"
	"calentian-mail-pipeline/internal/attachments"
	"calentian-mail-pipeline/internal/config"
	"calentian-mail-pipeline/internal/db"
	"calentian-mail-pipeline/internal/handlers"
	"calentian-mail-pipeline/internal/mailbox"
	"calentian-mail-pipeline/internal/metrics"
	"calentian-mail-pipeline/internal/notifier"
	"calentian-mail-pipeline/internal/poller"
	"calentian-mail-pipeline/internal/repository"
	"calentian-mail-pipeline/internal/server"
)

// Mode selects which components run in this process
type Mode int

const (
	// ModeAll runs the poller, the assignment worker and the HTTP server
	ModeAll Mode = iota
	// ModePoller runs the poller and the HTTP server
	ModePoller
	// ModeAssigner runs the assignment worker and the HTTP server
	ModeAssigner
)

func (m Mode) polls() bool   { return m == ModeAll || m == ModePoller }
func (m Mode) assigns() bool { return m == ModeAll || m == ModeAssigner }

func (m Mode) String() string {
	switch m {
	case ModePoller:
		return "poller"
	case ModeAssigner:
		return "assigner"
	default:
		return "all"
	}
}

// ConfigureLogging applies the log level and format
func ConfigureLogging(cfg config.LogConfig) error {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	return nil
}

// Run initializes and starts the components selected by mode and blocks
// until SIGINT/SIGTERM or until the mailbox session ends.
func Run(configPath string, mode Mode) error {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if mode.polls() {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateWithoutMailbox()
	}
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := ConfigureLogging(cfg.Log); err != nil {
		return err
	}

	logrus.WithField("mode", mode.String()).Info("Starting Calentian mail pipeline")

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(dbConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	hub := notifier.NewHub(m)
	go hub.Run(ctx)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var worker *assigner.Worker
	if mode.assigns() {
		var closeDirectory func()
		worker, closeDirectory, err = startWorker(cfg, dbConn, hub, redisClient, m)
		if err != nil {
			return err
		}
		defer closeDirectory()
	} else if redisClient != nil {
		// events come from an assigner running in another process
		relay := notifier.NewRedisRelay(redisClient, cfg.Redis.Channel, hub)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logrus.Errorf("Redis relay stopped: %v", err)
			}
		}()
	}

	pollerErr := make(chan error, 1)
	var p *poller.Poller
	if mode.polls() {
		var session mailbox.Session
		p, session, err = newPoller(cfg, dbConn, m)
		if err != nil {
			return err
		}
		defer session.Logout()
		go func() {
			pollerErr <- p.Run(ctx)
		}()
	}

	opts := handlers.Options{Hub: hub, Worker: worker}
	if p != nil {
		opts.Poller = p
	}
	h := handlers.NewHandlers(dbConn, opts)
	router := server.SetupRouter(h, cfg.Attachments)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-pollerErr:
		if err != nil {
			runErr = fmt.Errorf("mailbox poller stopped: %w", err)
		}
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if worker != nil {
		if err := worker.Stop(); err != nil {
			logrus.Errorf("Failed to stop assignment worker: %v", err)
		}
		worker.Wait()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if errors.Is(runErr, poller.ErrSessionEnded) {
		logrus.Error("Mailbox session ended, exiting for supervisor restart")
	}
	if runErr != nil {
		return runErr
	}

	logrus.Info("Stopped gracefully")
	return nil
}

func startWorker(cfg *config.Config, dbConn *gorm.DB, hub *notifier.Hub, redisClient *redis.Client, m *metrics.Metrics) (*assigner.Worker, func(), error) {
	var directory assigner.Directory = repository.NewDirectoryRepository(dbConn)
	closeDirectory := func() {}
	if cfg.Assigner.CacheTTL > 0 {
		cached := assigner.NewCachedDirectory(directory, cfg.Assigner.CacheTTL)
		directory = cached
		closeDirectory = cached.Close
	}

	var publisher notifier.Publisher = hub
	if redisClient != nil {
		publisher = notifier.Multi{hub, notifier.NewRedisPublisher(redisClient, cfg.Redis.Channel)}
	}

	worker := assigner.NewWorker(cfg.Assigner.Interval, repository.NewMessageRepository(dbConn), directory, publisher, m)
	if err := worker.Start(); err != nil {
		closeDirectory()
		return nil, nil, fmt.Errorf("failed to start assignment worker: %w", err)
	}
	return worker, closeDirectory, nil
}

func newPoller(cfg *config.Config, dbConn *gorm.DB, m *metrics.Metrics) (*poller.Poller, mailbox.Session, error) {
	store, err := attachments.NewStore(cfg.Attachments.Dir, cfg.Attachments.URLPrefix)
	if err != nil {
		return nil, nil, err
	}

	session, err := mailbox.Dial(cfg.IMAP)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mailbox session: %w", err)
	}

	pcfg := poller.Config{
		Mailbox:      cfg.IMAP.Mailbox,
		DoneFolder:   cfg.IMAP.DoneFolder,
		FailedFolder: cfg.IMAP.FailedFolder,
		BusyDelay:    cfg.IMAP.BusyDelay,
		IdleDelay:    cfg.IMAP.IdleDelay,
		ErrorDelay:   cfg.IMAP.ErrorDelay,
		MoveTimeout:  cfg.IMAP.MoveTimeout,
	}
	logrus.Infof("Mailbox poller configured: %s", pcfg)

	return poller.New(session, store, repository.NewMessageRepository(dbConn), pcfg, m), session, nil
}
