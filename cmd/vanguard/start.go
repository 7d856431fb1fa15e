package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/vanguard/pkg/api"
	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/config"
	"github.com/cuemby/vanguard/pkg/events"
	"github.com/cuemby/vanguard/pkg/failover"
	"github.com/cuemby/vanguard/pkg/health"
	"github.com/cuemby/vanguard/pkg/log"
	"github.com/cuemby/vanguard/pkg/metrics"
	"github.com/cuemby/vanguard/pkg/security"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/storage"
	"github.com/cuemby/vanguard/pkg/supervisor"
	"github.com/cuemby/vanguard/pkg/watchdog"
	"github.com/spf13/cobra"
)

// singleNodeQuorum always reports quorum, correct for a deployment with
// no watchdog cluster (spec §4.6's quarantine rule only applies once a
// cluster is actually in play).
type singleNodeQuorum struct{}

func (singleNodeQuorum) HasQuorum() bool { return true }
func (singleNodeQuorum) IsLeader() bool  { return true }

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodeID, _ := cmd.Flags().GetString("node-id")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitWithCode(1, "config error: %v", err)
	}

	if nodeID == "" {
		nodeID, _ = os.Hostname()
		if nodeID == "" {
			nodeID = "vanguard-0"
		}
	}

	pidFile := cfg.PidFileName
	if running, pid := anotherInstanceRunning(pidFile); running {
		return exitWithCode(3, "another instance is already running (pid %d, pidfile %s)", pid, pidFile)
	}
	if err := writePidFile(pidFile); err != nil {
		return exitWithCode(2, "failed to write pid file %s: %v", pidFile, err)
	}
	defer os.Remove(pidFile)

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return exitWithCode(2, "failed to create data directory %s: %v", dataDir, err)
	}

	log.Info("vanguard starting")
	startLog := log.WithComponent("start")
	startLog.Info().Str("node_id", nodeID).Str("config", configPath).Msg("loaded configuration")

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return exitWithCode(2, "failed to open status database: %v", err)
	}
	defer store.Close()

	nodes := cfg.BackendNodes()
	nodeIDs := make([]int, 0, len(nodes))
	for _, n := range nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}
	table := statustable.New(nodeIDs, store)
	table.SeedRoles(nodes)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	var credStore *security.CredentialStore
	if cfg.EnablePoolHBA {
		credStore, err = security.LoadCredentialStore(cfg.PoolPasswd)
		if err != nil {
			return exitWithCode(1, "failed to load pool_passwd %s: %v", cfg.PoolPasswd, err)
		}
	}

	var auth supervisor.Authenticator = supervisor.TrustAuthenticator{}
	if credStore != nil {
		auth = supervisor.CredentialAuthenticator{Store: credStore}
	}

	sup := supervisor.New(supervisor.Config{
		ListenAddr:       listenAddr(cfg),
		NumWorkers:       cfg.NumWorkers,
		MaxPool:          cfg.MaxPool,
		Nodes:            nodes,
		Table:            table,
		Auth:             auth,
		StatementLevelLB: cfg.StatementLevelLoadBalance,
	})

	var coordinator *watchdog.Coordinator
	var watchdogMetrics *watchdog.MetricsCollector
	if cfg.UseWatchdog {
		coordinator = watchdog.New(watchdog.Config{
			NodeID:   nodeID,
			BindAddr: cfg.WDBindAddr,
			DataDir:  dataDir,
			Priority: cfg.WDPriority,
			Table:    table,
		})
		if bootstrap {
			if err := coordinator.Bootstrap(); err != nil {
				return exitWithCode(2, "failed to bootstrap watchdog cluster: %v", err)
			}
		} else {
			if err := coordinator.Join(); err != nil {
				return exitWithCode(2, "failed to join watchdog cluster: %v", err)
			}
		}
		watchdogMetrics = watchdog.NewMetricsCollector(coordinator, broker)
		watchdogMetrics.Start()
		defer watchdogMetrics.Stop()
	}

	stats := health.NewStatsRegistry()

	executor := failover.New(failover.Config{
		Table:               table,
		Coordinator:         coordinatorOrNil(coordinator),
		Replicator:          replicatorOrNil(coordinator),
		Notifier:            sup.Registry(),
		RunScript:           runScript,
		FailoverScript:      cfg.FailoverCommand,
		FailbackScript:      cfg.FailbackCommand,
		RecoveryScript:      cfg.Recovery1stStageCommand,
		Recovery2Script:     cfg.Recovery2ndStageCommand,
		FollowPrimaryScript: cfg.FollowPrimaryCommand,
		Events:              broker,
	})
	go executor.Run(context.Background())

	var quorum health.QuorumChecker = singleNodeQuorum{}
	if coordinator != nil {
		quorum = coordinator
	}

	healthCtrl := health.NewController(table, executor, quorum, stats).WithEvents(broker)
	healthCreds := backend.Credentials{User: cfg.HealthCheckUser, Database: cfg.HealthCheckDatabase}
	if credStore != nil {
		if pw, err := credStore.PlainSecret(cfg.HealthCheckUser); err == nil {
			healthCreds.Password = pw
		}
	}
	for _, n := range nodes {
		checker := health.NewPostgresChecker(n, healthCreds, cfg.HealthCheckTimeoutDuration())
		healthCtrl.AddBackend(n, checker,
			cfg.HealthCheckPeriodDuration(),
			cfg.HealthCheckTimeoutDuration(),
			time.Duration(cfg.HealthCheckRetryDelay)*time.Second,
			cfg.HealthCheckMaxRetries,
		)
	}
	go healthCtrl.Run(context.Background())

	metricsCollector := metrics.NewCollector(table, stats, nodes)
	metricsCollector.Start()
	defer metricsCollector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("supervisor", true, "listening")
	metrics.RegisterComponent("api", true, "listening")

	jwtSecret := []byte(cfg.AdminJWTSecret)
	deps := api.Dependencies{
		Config:      cfg,
		Nodes:       nodes,
		Table:       table,
		Stats:       stats,
		Sessions:    sup.Registry(),
		Executor:    executor,
		Coordinator: coordinator,
		Reload: func() error {
			return reloadConfig(configPath, cfg, broker)
		},
		Shutdown:  func() { fmt.Println("shutdown requested via admin API") },
		LogRotate: func() error { return nil },
	}
	apiServer := api.NewServer(deps, jwtSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("supervisor: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("admin api: %w", err)
		}
	}()

	fmt.Printf("✓ Vanguard listening on %s\n", listenAddr(cfg))
	fmt.Printf("✓ Admin API listening on %s\n", cfg.AdminListenAddress)
	if cfg.UseWatchdog {
		fmt.Printf("✓ Watchdog cluster node %q bound to %s\n", nodeID, cfg.WDBindAddr)
	}
	fmt.Println("Vanguard is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := reloadConfig(configPath, cfg, broker); err != nil {
					startLog.Warn().Err(err).Msg("config reload rejected")
				}
				continue
			}
			fmt.Println("\nShutting down...")
			cancel()
			apiServer.Stop()
			fmt.Println("✓ Shutdown complete")
			return nil
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			cancel()
			apiServer.Stop()
			return err
		}
	}
}

// reloadConfig re-reads configPath and validates it before touching the
// running config, per SPEC_FULL.md §6.2: an invalid reload is rejected
// and the prior config kept, logged as a warning rather than applied.
func reloadConfig(configPath string, running *config.Config, broker *events.Broker) error {
	reloaded, err := config.Load(configPath)
	if err != nil {
		broker.Publish(&events.Event{Type: events.EventConfigInvalid, Message: err.Error()})
		return fmt.Errorf("config_invalid: %w", err)
	}
	*running = *reloaded
	broker.Publish(&events.Event{Type: events.EventConfigReloaded, Message: "configuration reloaded"})
	log.Info("configuration reloaded")
	return nil
}

func coordinatorOrNil(c *watchdog.Coordinator) failover.Coordinator {
	if c == nil {
		return nil
	}
	return c
}

func replicatorOrNil(c *watchdog.Coordinator) failover.Replicator {
	if c == nil {
		return nil
	}
	return c
}

func runScript(ctx context.Context, scriptPath string, args ...string) error {
	cmd := exec.CommandContext(ctx, scriptPath, args...)
	return cmd.Run()
}

// listenAddr builds the supervisor's bind address from listen_addresses/
// port. listen_addresses may be a comma-separated list (spec §6.1); only
// the first address is bound, matching the original's single-listener
// simplification for this implementation.
func listenAddr(cfg *config.Config) string {
	addr := cfg.ListenAddresses
	if idx := strings.IndexByte(addr, ','); idx >= 0 {
		addr = strings.TrimSpace(addr[:idx])
	}
	return fmt.Sprintf("%s:%d", addr, cfg.Port)
}

// anotherInstanceRunning checks pidFile for a live process, satisfying
// SPEC_FULL.md §6.5's exit code 3. A stale pidfile (process no longer
// exists) is treated as not running.
func anotherInstanceRunning(pidFile string) (bool, int) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, pid
}

func writePidFile(pidFile string) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
