// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netpermd runs the network permission daemon: it folds package,
// user, settings, and VPN events into the kernel and eBPF enforcement
// backends and serves the local management API.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/netperm/internal/api"
	"grimm.is/netperm/internal/backend/bpf"
	"grimm.is/netperm/internal/backend/nft"
	"grimm.is/netperm/internal/brand"
	"grimm.is/netperm/internal/config"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/metrics"
	"grimm.is/netperm/internal/netperm"
	"grimm.is/netperm/internal/pkgdb"
	"grimm.is/netperm/internal/settings"
)

func main() {
	configFile := flag.String("config", brand.DefaultConfigFile(), "path to the config file")
	bpfPinDir := flag.String("bpf-pin-dir", bpf.DefaultPinDir, "bpffs directory for the permission maps")
	flag.Parse()

	if err := run(*configFile, *bpfPinDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", brand.BinaryName, err)
		os.Exit(1)
	}
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func run(configFile, bpfPinDir string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LoggerConfig())
	logging.SetDefault(logger)
	logger.Info("Starting "+brand.Name, "config", configFile)

	pidFile := filepath.Join(brand.GetRunDir(), brand.LowerName+".pid")
	if err := writePidFile(pidFile); err != nil {
		logger.Warn("Could not write pid file", "path", pidFile, "error", err)
	} else {
		defer os.Remove(pidFile)
	}

	settingsStore, err := settings.Load(cfg.Paths.SettingsFile, logger)
	if err != nil {
		return err
	}
	packages, err := pkgdb.Load(cfg.Paths.PackagesFile, logger)
	if err != nil {
		return err
	}

	kernel, err := nft.New(logger)
	if err != nil {
		return err
	}
	maps, err := bpf.New(bpfPinDir, logger)
	if err != nil {
		return err
	}
	defer maps.Close()

	m := metrics.New()
	monitor := netperm.NewMonitor(netperm.Config{FirstSDK: cfg.Device.FirstSDKInt}, netperm.Deps{
		Packages:     packages,
		Users:        packages,
		Settings:     settingsStore,
		SystemConfig: cfg,
		Kernel:       kernel,
		Traffic:      maps,
		Vpn:          maps,
		Metrics:      m,
	}, logger)

	if err := monitor.Start(); err != nil {
		// The scan already applied what it could; a backend error at boot
		// is logged, not fatal.
		logger.Error("Initial scan finished with errors", "error", err)
	}
	defer monitor.Stop()

	reload := func() error {
		changes, err := packages.Reload()
		if err != nil {
			return err
		}
		var errs []error
		for _, c := range changes.Removed {
			errs = append(errs, monitor.OnPackageRemoved(c.Name, c.UID))
		}
		for _, c := range changes.Added {
			errs = append(errs, monitor.OnPackageAdded(c.Name, c.UID))
		}
		errs = append(errs, settingsStore.Reload())
		return stderrors.Join(errs...)
	}

	server := api.NewServer(api.ServerOptions{
		Monitor:  monitor,
		Settings: settingsStore,
		Metrics:  m,
		Logger:   logger,
		Reload:   reload,
	})
	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		go func() { apiErr <- server.Start(cfg.API.Listen) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGHUP, unix.SIGINT, unix.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			if sig == unix.SIGHUP {
				logger.Info("Reloading on SIGHUP")
				if err := reload(); err != nil {
					logger.Error("Reload failed", "error", err)
				}
				continue
			}
			logger.Info("Shutting down", "signal", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := server.Shutdown(ctx)
			cancel()
			return err
		case err := <-apiErr:
			return err
		}
	}
}
