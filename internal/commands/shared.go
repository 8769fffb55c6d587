package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/client"
	"github.com/sdpower/usagebar-go/internal/config"
	"github.com/sdpower/usagebar-go/internal/credential"
	"github.com/sdpower/usagebar-go/internal/logger"
	"github.com/sdpower/usagebar-go/internal/metrics"
	"github.com/sdpower/usagebar-go/internal/netmon"
	"github.com/sdpower/usagebar-go/internal/notify"
	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/version"
)

// GlobalOptions are the persistent flags of the root command.
type GlobalOptions struct {
	ConfigPath string
	LogLevel   string
	NoColor    bool
}

func (o *GlobalOptions) loadConfig() (config.Config, string, error) {
	path := config.ResolvePath(o.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, path, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, path, err
		}
	}
	return cfg, path, nil
}

// useColor reports whether colored output should be written to stdout.
func (o *GlobalOptions) useColor() bool {
	if o.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// app bundles the collaborators of a running engine.
type app struct {
	cfg      config.Config
	cfgPath  string
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *poller.Engine
}

type appOptions struct {
	// logToFile keeps log output off the terminal.
	logToFile bool
	// banner, when set, also receives usage warnings.
	banner notify.Sink
	// watchNetwork starts the reachability monitor.
	watchNetwork         bool
	notificationsEnabled *bool
}

func newApp(opts *GlobalOptions, appOpts appOptions) (*app, error) {
	cfg, path, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logPath := cfg.Logging.File
	if appOpts.logToFile && logPath == "" {
		logPath = defaultLogPath()
	}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level, logPath)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	usageClient := client.New(client.Options{
		Endpoint: cfg.Poll.Endpoint,
		Timeout:  cfg.RequestTimeout(),
		Logger:   log.Named("client"),
		Metrics:  recorder,
	})

	var network poller.NetworkWatcher
	if appOpts.watchNetwork {
		network = netmon.New(netmon.Options{
			Prober: netmon.DialProber{
				Address: cfg.Network.ProbeAddress,
				Timeout: netmon.DefaultTimeout,
			},
			Interval: time.Duration(cfg.Network.ProbeIntervalSec) * time.Second,
			Logger:   log.Named("netmon"),
		})
	}

	notificationsEnabled := cfg.NotificationsEnabled()
	if appOpts.notificationsEnabled != nil {
		notificationsEnabled = *appOpts.notificationsEnabled
	}

	engine, err := poller.New(poller.Options{
		Fetcher:              usageClient,
		Credentials:          newCredentialChain(cfg, log.Named("credential")),
		Notifier:             notifiers(cfg, log.Named("notify"), appOpts.banner),
		Network:              network,
		Interval:             cfg.RefreshInterval(),
		NotificationsEnabled: notificationsEnabled,
		Logger:               log.Named("poller"),
		Metrics:              recorder,
	})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	log.Info("usagebar starting",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("config", path),
		zap.Duration("interval", cfg.RefreshInterval()),
		zap.Bool("notifications", notificationsEnabled),
	)

	return &app{
		cfg:      cfg,
		cfgPath:  path,
		logger:   log,
		registry: registry,
		engine:   engine,
	}, nil
}

func (a *app) close() {
	_ = a.engine.Close()
	_ = a.logger.Sync()
}

// notifiers logs every usage warning and forwards it to banner and, when
// enabled, the desktop.
func notifiers(cfg config.Config, log *zap.Logger, banner notify.Sink) notify.MultiSink {
	sinks := notify.MultiSink{notify.LogSink{Logger: log}}
	if banner != nil {
		sinks = append(sinks, banner)
	}
	if cfg.DesktopNotifications() {
		sinks = append(sinks, notify.DesktopSink{})
	}
	return sinks
}

// saveSettings persists runtime changes to the interval and notification
// toggle.
func (a *app) saveSettings(intervalSec int, notifications bool) {
	a.cfg.Poll.RefreshIntervalSec = intervalSec
	a.cfg.SetNotificationsEnabled(notifications)
	if err := config.Save(a.cfgPath, a.cfg); err != nil {
		a.logger.Warn("failed to save settings", zap.Error(err))
		return
	}
	a.logger.Info("settings saved",
		zap.Int("refresh_interval_sec", intervalSec),
		zap.Bool("notifications", notifications))
}

func newCredentialChain(cfg config.Config, log *zap.Logger) *credential.Chain {
	credsFile := cfg.Credentials.CredentialsFile
	if credsFile == "" {
		credsFile = credential.DefaultCredentialsPath()
	}
	cachePath := cfg.Credentials.TokenCache
	if cachePath == "" {
		cachePath = credential.DefaultTokenCachePath()
	}
	return credential.NewChain(credential.ChainOptions{
		Override: credential.EnvSource{Var: cfg.Credentials.EnvVar},
		Cache:    &credential.TokenCache{Path: cachePath},
		Upstream: []credential.Source{
			credential.FileSource{Path: credsFile},
			credential.KeychainSource{Service: cfg.Credentials.KeychainService},
		},
		Logger: log,
	})
}

func defaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "usagebar", "usagebar.log")
}
