// Command agent-monitord runs the background daemon: it observes local AI
// coding-assistant sessions through the Adapter layer, persists unified
// session/event history, and exposes it over IPC, HTTP and the Bridge
// socket.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/robertcprice/agent-monitor/internal/analytics"
	"github.com/robertcprice/agent-monitor/internal/bridge"
	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/config"
	"github.com/robertcprice/agent-monitor/internal/httpapi"
	"github.com/robertcprice/agent-monitor/internal/ipc"
	"github.com/robertcprice/agent-monitor/internal/monitor"
	"github.com/robertcprice/agent-monitor/internal/snapshot"
	"github.com/robertcprice/agent-monitor/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/agent-monitor/config.yaml)")
	dbPath := flag.String("db", "", "Path to the SQLite database file")
	port := flag.Int("port", 0, "Override HTTP port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	dataPath := *dbPath
	if dataPath == "" {
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			home, _ := os.UserHomeDir()
			dataHome = filepath.Join(home, ".local", "share")
		}
		dataPath = filepath.Join(dataHome, "agent-monitor", "agent-monitor.db")
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		log.Fatalf("failed to create database directory: %v", err)
	}

	st, err := store.Open(dataPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	b := bus.New()
	am := analytics.NewManager(cfg.Analytics.MaxCallsPerHour)

	registry := monitor.NewRegistry()
	if cfg.Adapters.Claude.Enabled {
		home, _ := os.UserHomeDir()
		registry.Add(monitor.NewClaudeAdapter(home, st, b, cfg.Adapters.Claude.HealthThreshold))
	}
	if cfg.Adapters.Editor.Enabled {
		registry.Add(monitor.NewEditorAdapter(cfg.Adapters.Editor.BinaryName))
	}
	if cfg.Adapters.Pair.Enabled {
		registry.Add(monitor.NewPairAdapter(cfg.Adapters.Pair.ToolName))
	}

	if errs := registry.StartAll(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("adapter start error: %v", e)
		}
	}
	poller := monitor.NewDiscoveryPoller(registry, st, b, cfg.Adapters.ScanInterval)
	poller.Start()

	analyticsSub := b.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range analyticsSub.Events() {
			e := ev
			am.ObserveEvent(&e)
		}
	}()

	privacyFilter := cfg.Privacy.NewPrivacyFilter()
	ipcServer := ipc.New(cfg.Sockets.IPCPath, st, privacyFilter)
	if err := ipcServer.Start(); err != nil {
		log.Fatalf("failed to start IPC server: %v", err)
	}

	bridgeServer := bridge.New(cfg.Sockets.BridgePath, st, b, privacyFilter)
	if err := bridgeServer.Start(); err != nil {
		log.Fatalf("failed to start bridge server: %v", err)
	}

	snap := snapshot.NewSnapshotter(cfg.Snapshot.Path, cfg.Snapshot.Interval, st, am, httpapi.Version)
	snap.Start()

	httpCfg := httpapi.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		BroadcastInterval: cfg.Server.BroadcastInterval,
		SSEKeepAlive:      cfg.Server.SSEKeepAlive,
		WebhookTimeout:    cfg.Server.WebhookTimeout,
	}
	httpServer := httpapi.NewServer(httpCfg, st, b, am, privacyFilter)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchForReload(ctx, cfgPath, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	cancel()
	poller.Stop()
	registry.StopAll()
	httpServer.Stop()
	bridgeServer.Stop()
	ipcServer.Stop()
	snap.Stop()
	analyticsSub.Close()
	wg.Wait()
}

// watchForReload reloads cfg on SIGHUP, logs a diff of what changed, per
// the teacher's live-reload idiom, and copies the new values into cfg.
// Running components keep the settings they were constructed with and do
// not re-read cfg, so no reloaded value takes effect until a restart.
func watchForReload(ctx context.Context, path string, cfg *config.Config) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			newCfg, err := config.LoadOrDefault(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			changes := config.Diff(cfg, newCfg)
			if len(changes) == 0 {
				log.Println("config reload: no changes")
			} else {
				for _, c := range changes {
					log.Printf("config reload: %s", c)
				}
			}
			*cfg = *newCfg
		}
	}
}
