package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/client/archive"
	"github.com/dmitrijs2005/fleetsync/internal/client/backup"
	"github.com/dmitrijs2005/fleetsync/internal/client/config"
	"github.com/dmitrijs2005/fleetsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fleetsync/internal/client/kvstore"
	"github.com/dmitrijs2005/fleetsync/internal/client/metrics"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
	"github.com/dmitrijs2005/fleetsync/internal/client/syncer"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type registrationService interface {
	Load(ctx context.Context) ([]registrations.Registration, error)
	Cached(ctx context.Context) ([]registrations.Registration, error)
	Get(ctx context.Context, id int64) (registrations.Registration, error)
	Add(ctx context.Context, r registrations.Registration) (registrations.AddResult, error)
	Update(ctx context.Context, r registrations.Registration) (registrations.AddResult, error)
	Delete(ctx context.Context, id int64) (registrations.AddResult, error)
	Pending(ctx context.Context) ([]registrations.Registration, error)
}

type syncService interface {
	Sync(ctx context.Context) (syncer.Result, error)
	WatchReconnect(ctx context.Context, interval time.Duration)
}

type backupService interface {
	CreateBackup(ctx context.Context) (backup.Snapshot, error)
	History(ctx context.Context) ([]backup.Snapshot, error)
	Get(ctx context.Context, timestamp int64) (backup.Snapshot, error)
	Latest(ctx context.Context) (backup.Snapshot, error)
	BackupStats(ctx context.Context) (backup.Stats, error)
	ExportBackup(ctx context.Context, s backup.Snapshot, o backup.ExportOptions) (string, error)
	ListExports(ctx context.Context) ([]archive.Object, error)
	ImportBackup(ctx context.Context, r io.Reader, passphrase []byte) (backup.Snapshot, error)
	ImportFromArchive(ctx context.Context, name string, passphrase []byte) (backup.Snapshot, error)
	RestoreBackup(ctx context.Context, s backup.Snapshot, o backup.RestoreOptions) (backup.RestoreReport, error)
	StartAutoBackup(ctx context.Context, interval time.Duration) error
	StopAutoBackup()
	AutoBackupRunning() bool
}

type prober interface {
	Test(ctx context.Context) connectivity.Result
	DetectCaptivePortal(ctx context.Context) bool
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    kvstore.Store
	registry *prometheus.Registry

	probe    prober
	regs     registrationService
	syncer   syncService
	backups  backupService
	bus      *notify.Bus
	reader   *bufio.Reader
	out      io.Writer
	modeMu   sync.Mutex
	mode     Mode
	readFile func(name string) ([]byte, error)
	now      func() time.Time
}

// NewApp opens the local store and builds every client component from c.
func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(c.LogFormat, c.LogLevel, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	store, err := kvstore.Open(ctx, c.StoreDriver, c.StoreDSN)
	if err != nil {
		log.Printf("error initializing store: %s", err.Error())
		return nil, err
	}

	api, err := apiclient.New(c.ServerURL, apiclient.WithToken(c.APIToken), apiclient.WithTimeout(c.ProbeTimeout*2))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var (
		registry *prometheus.Registry
		m        *metrics.Metrics
	)
	if c.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	target, err := newArchive(ctx, c)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := notify.NewBus()
	probe := connectivity.NewProbe(connectivity.Options{
		ServerURL:  c.ServerURL,
		Fallbacks:  c.FallbackEndpoints,
		CaptiveURL: c.CaptiveURL,
		Timeout:    c.ProbeTimeout,
		Freshness:  c.Freshness,
		Logger:     logger.With("module", "connectivity"),
		Metrics:    m,
	})
	cache := registrations.NewCache(store, api, probe,
		registrations.WithLogger(logger.With("module", "registrations")),
		registrations.WithBus(bus),
		registrations.WithMetrics(m),
	)
	sm := syncer.NewManager(cache, api, probe,
		syncer.WithLogger(logger.With("module", "sync")),
		syncer.WithBus(bus),
		syncer.WithMetrics(m),
	)

	pause := c.BatchPause
	if pause == 0 {
		pause = -1
	}
	bm := backup.NewManager(store, api, backup.Options{
		Retention:  c.BackupRetention,
		BatchSize:  c.BatchSize,
		BatchPause: pause,
		Archive:    target,
		Logger:     logger.With("module", "backup"),
		Bus:        bus,
		Metrics:    m,
	})

	return &App{
		config:   c,
		logger:   logger,
		store:    store,
		registry: registry,
		probe:    probe,
		regs:     cache,
		syncer:   sm,
		backups:  bm,
		bus:      bus,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		readFile: os.ReadFile,
		now:      time.Now,
	}, nil
}

// newArchive picks the export target: the S3 bucket when one is
// configured, the local archive directory otherwise.
func newArchive(ctx context.Context, c *config.Config) (archive.Store, error) {
	if c.S3Bucket != "" {
		client, err := archive.NewS3Client(ctx, archive.S3Options{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client init error: %w", err)
		}
		return archive.NewS3Store(client, c.S3Bucket, c.S3Prefix), nil
	}
	return archive.NewFileStore(c.ArchiveDir)
}

func (a *App) setMode(mode Mode) {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	if a.mode != mode {
		a.mode = mode
		fmt.Fprintf(a.out, "Switched to %s mode\n", mode)
	}
}

func (a *App) Mode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

// Run starts the background workers and the REPL, and releases the store
// when the user exits.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Error(ctx, "store close failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	if a.registry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.serveMetrics(ctx)
		}()
	}

	events, unsubscribe := a.bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.printNotifications(ctx, events)
	}()
	defer unsubscribe()

	if a.probe.Test(ctx).IsOnline {
		a.setMode(ModeOnline)
	} else {
		a.setMode(ModeOffline)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.syncer.WatchReconnect(ctx, a.config.OnlineCheckInterval)
	}()

	if a.config.AutoBackupInterval > 0 {
		if err := a.backups.StartAutoBackup(ctx, a.config.AutoBackupInterval); err != nil {
			a.logger.Error(ctx, "auto backup not started", "error", err)
		}
	}
	defer a.backups.StopAutoBackup()

	a.Root(ctx, bufio.NewScanner(a.reader))
	cancel()
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: a.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info(ctx, "metrics endpoint started", "address", a.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "metrics endpoint failed", "error", err)
	}
}

// printNotifications reports bus events to the user and tracks the
// connectivity mode shown in the prompt.
func (a *App) printNotifications(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			switch {
			case e.Kind == notify.KindConnectivity && e.Action == notify.ActionOnline:
				a.setMode(ModeOnline)
			case e.Kind == notify.KindConnectivity && e.Action == notify.ActionOffline:
				a.setMode(ModeOffline)
			case e.Action == notify.ActionSynced, e.Action == notify.ActionRestored:
				fmt.Fprintf(a.out, "\n[%s %s] %s\n", e.Kind, e.Action, e.Message)
			}
		case <-ctx.Done():
			return
		}
	}
}
