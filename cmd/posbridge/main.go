// Command posbridge is the local hardware bridge: it finds receipt printers
// and barcode scanners attached to the point-of-sale machine and exposes them
// to the browser over a WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/api"
	"github.com/thereceipt/posbridge/internal/command"
	"github.com/thereceipt/posbridge/internal/config"
	"github.com/thereceipt/posbridge/internal/discovery"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/job"
	"github.com/thereceipt/posbridge/internal/logging"
	"github.com/thereceipt/posbridge/internal/platform"
	"github.com/thereceipt/posbridge/internal/printer"
	"github.com/thereceipt/posbridge/internal/probe"
	"github.com/thereceipt/posbridge/internal/registry"
	"github.com/thereceipt/posbridge/internal/render"
	"github.com/thereceipt/posbridge/internal/scanner"
	"github.com/thereceipt/posbridge/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

const shutdownTimeout = 10 * time.Second

type options struct {
	configDir string
	host      string
	port      int
	logLevel  string
	tui       bool
	version   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configDir, "config-dir", "", "Directory holding config.json and devices.json")
	flag.StringVar(&opts.host, "host", "", "Listen address (overrides config)")
	flag.IntVar(&opts.port, "port", 0, "Listen port (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flag.BoolVar(&opts.tui, "tui", false, "Show the terminal dashboard")
	flag.BoolVar(&opts.version, "version", false, "Print the version and exit")
	flag.Parse()

	if opts.version {
		fmt.Println(Version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "posbridge: %v\n", err)
		os.Exit(1)
	}
}

func loadSettings(opts options) (config.Settings, string, error) {
	dir := opts.configDir
	if dir == "" {
		var err error
		if dir, err = config.Dir(); err != nil {
			return config.Settings{}, "", fmt.Errorf("failed to resolve config dir: %w", err)
		}
	}

	settings, err := config.Load(dir)
	if err != nil {
		return settings, dir, err
	}
	if err := settings.ApplyEnv(); err != nil {
		return settings, dir, err
	}
	if opts.host != "" {
		settings.Host = opts.host
	}
	if opts.port != 0 {
		settings.Port = opts.port
	}
	if opts.logLevel != "" {
		settings.LogLevel = opts.logLevel
	}
	return settings, dir, settings.Validate()
}

func run(opts options) error {
	settings, dir, err := loadSettings(opts)
	if err != nil {
		return err
	}

	// The dashboard owns the terminal, so its log view replaces stderr.
	var sink *logging.Deferred
	var extra io.Writer
	if opts.tui {
		sink = &logging.Deferred{}
		extra = sink
	}
	log, err := logging.New(settings.LogLevel, extra)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer zap.RedirectStdLog(log)()

	log.Info("starting", zap.String("version", Version), zap.String("config_dir", dir))
	if created, err := config.Init(dir); err != nil {
		log.Warn("could not write default settings", zap.Error(err))
	} else if created {
		log.Info("wrote default settings", zap.String("path", config.SettingsPath(dir)))
	}

	bus := events.NewBus()
	defer bus.Close()

	reg, err := registry.New(registry.NewStore(config.DevicesPath(dir)), registry.WithLogger(log.Named("registry")))
	if err != nil {
		return fmt.Errorf("failed to load device registry: %w", err)
	}

	var backends []scanner.Backend
	if settings.ScannerEnabled {
		backends = scanner.DefaultBackends(settings.ScannerDevices)
	}
	listener := scanner.NewListener(bus, log.Named("scanner"), scanner.Options{
		InterKeyTimeout: settings.ScannerTimeout(),
		MinLength:       settings.ScannerMinLength,
	}, backends...)

	probers := []probe.Prober{
		probe.NewUSBProber(log.Named("probe")),
		&probe.NetworkProber{
			Targets: func() []string {
				return append(reg.NetworkTargets(), settings.NetworkPrinters...)
			},
			DialTimeout: settings.DialTimeout(),
		},
	}
	if settings.MDNSEnabled {
		probers = append(probers, probe.NewMDNSProber())
	}
	if settings.BluetoothEnabled {
		probers = append(probers, probe.NewBluetoothProber(log.Named("probe")))
	}
	if len(backends) > 0 {
		probers = append(probers, probe.NewScannerProber(log.Named("probe"), listener.Backends()...))
	}
	disc := probe.NewDiscoverer(log.Named("probe"), settings.ProbeTimeout(), probers...)

	pool := printer.NewPool(printer.NewDialer(settings.DialTimeout(), settings.WriteTimeout()), log.Named("printer"))
	engine := job.NewEngine(reg, render.New(), pool, bus, log.Named("job"), job.Options{
		QueueDepth: settings.QueueDepth,
	})

	monitor := discovery.NewMonitor(reg, disc, listener, bus, log.Named("discovery"), settings.DiscoveryInterval())

	server := api.NewServer(api.Deps{
		Version:   Version,
		Registry:  reg,
		Jobs:      engine,
		Discovery: monitor,
		Scanners:  listener,
		Notifier:  platform.NewNotifier(),
		Keyboard:  platform.NewKeyboard(),
		Bus:       bus,
		Log:       log.Named("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(settings.Addr()); err != nil {
			serverErr <- err
		}
	}()

	var uiDone chan error
	if opts.tui {
		dash := tui.NewDashboard(tui.Deps{
			Version:  Version,
			Addr:     settings.Addr(),
			Registry: reg,
			Jobs:     engine,
			Executor: command.NewExecutor(reg, engine, monitor, listener),
			Scanners: listener,
			Clients:  server.Clients,
		})
		if err := sink.Attach(dash.LogWriter()); err != nil {
			return err
		}
		uiDone = make(chan error, 1)
		go func() { uiDone <- dash.Run(ctx) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-serverErr:
		log.Error("server failed", zap.Error(runErr))
	case err := <-uiDone:
		if err != nil {
			runErr = fmt.Errorf("dashboard: %w", err)
		}
	}

	shutdown(log, server, monitor, listener, engine)
	return runErr
}

// shutdown stops intake first, then the producers, then the job engine so
// queued jobs fail with a terminal event before connections close.
func shutdown(log *zap.Logger, server *api.Server, monitor *discovery.Monitor, listener *scanner.Listener, engine *job.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	if err := monitor.Stop(ctx); err != nil {
		log.Warn("discovery shutdown", zap.Error(err))
	}
	if err := listener.Stop(ctx); err != nil {
		log.Warn("scanner shutdown", zap.Error(err))
	}
	if err := engine.Stop(ctx); err != nil {
		log.Warn("job engine shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
