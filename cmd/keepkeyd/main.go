package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"keepkeyd/internal/config"
	"keepkeyd/internal/enumerator"
	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/httpapi"
	"keepkeyd/internal/logging"
	"keepkeyd/internal/queue"
	"keepkeyd/internal/registry"
	"keepkeyd/internal/transport"
	"keepkeyd/internal/worker"
)

// keepKeyVendorID is the USB vendor ID shared by normal (HID) and
// bootloader-mode (raw USB interrupt) KeepKey enumeration.
const keepKeyVendorID = 0x2B24

var knownDevices = []enumerator.KnownDevice{
	{VendorID: keepKeyVendorID, ProductID: 0x0001, TransportKind: transport.KindHID},
	{VendorID: keepKeyVendorID, ProductID: 0x0002, TransportKind: transport.KindUSBInterrupt},
}

var (
	httpAddr    = flag.String("http-addr", "", "address the HTTP command surface listens on (overrides config/env)")
	logFileDir  = flag.String("log-dir", "", "directory for per-run JSON logs, empty disables file logging")
	logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
	regPath     = flag.String("registry-path", "", "JSON file backing the device registry, empty keeps it in memory")
	shutdownGap = flag.Duration("shutdown-timeout", 5*time.Second, "grace period for in-flight HTTP requests on shutdown")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFileDir != "" {
		cfg.LogFileDir = *logFileDir
	}
	if *regPath != "" {
		cfg.RegistryPath = *regPath
	}

	logging.Init(logging.Options{Level: cfg.LogLevel, Console: true, FileDir: cfg.LogFileDir})
	log := logging.Get()

	store, err := openRegistry(cfg.RegistryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening device registry")
	}

	bus := eventbus.New(cfg.EventSubscriberBuffer)

	scanner := enumerator.OSScanner{Known: knownDevices}
	enum := enumerator.New(scanner, time.Duration(cfg.EnumScanIntervalMS)*time.Millisecond, time.Duration(cfg.DisconnectGraceMS)*time.Millisecond, log)
	enum.Start()

	workerCfg := worker.Config{
		InboxCapacity:        cfg.WorkerInboxCapacity,
		IdleTransportTimeout: time.Duration(cfg.IdleTransportTimeoutMS) * time.Millisecond,
		RetrySchedule:        retrySchedule(cfg.TransportRetryScheduleMS),
		OpTimeout:            cfg.OpTimeout("default"),
	}

	mgr := queue.New(enum, bus, routingOpener{}, workerCfg, log)
	mgr.Start()

	trackStop := make(chan struct{})
	go registry.Track(bus, store, trackStop)

	api := httpapi.New(cfg.HTTPAddr, mgr, bus, log, cfg.OpTimeout)
	api.Start()

	log.Info().Str("http_addr", cfg.HTTPAddr).Msg("keepkeyd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	close(trackStop)

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownGap)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http api shutdown")
	}

	mgr.Stop()
	enum.Stop()
	log.Info().Msg("keepkeyd stopped")
}

// routingOpener dispatches each Descriptor to the Opener for its own
// TransportKind, since a single Manager spans both HID (normal mode) and
// raw USB interrupt (bootloader mode) devices, per
// internal/transport.ForKind's doc comment.
type routingOpener struct{}

func (routingOpener) Open(d transport.Descriptor) (transport.Transport, error) {
	o, err := transport.ForKind(d.TransportKind)
	if err != nil {
		return nil, err
	}
	return o.Open(d)
}

func openRegistry(path string) (registry.Store, error) {
	if path == "" {
		return registry.NewMemoryStore(), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return registry.NewFileStore(abs)
}

func retrySchedule(ms []int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}
