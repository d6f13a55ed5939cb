package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/config"
	"github.com/wayguide/wayguide/internal/control"
	"github.com/wayguide/wayguide/internal/escalator"
	"github.com/wayguide/wayguide/internal/flow"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/httputil"
	"github.com/wayguide/wayguide/internal/journal"
	"github.com/wayguide/wayguide/internal/mirror"
	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/serialmux"
	"github.com/wayguide/wayguide/internal/service"
	"github.com/wayguide/wayguide/internal/timeutil"
	"github.com/wayguide/wayguide/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config (defaults built in)")
	showVersion = flag.Bool("version", false, "Print version and exit")
	replayDir   = flag.String("replay", "", "Replay recorded frames from this directory")
	linkKind    = flag.String("link", "", "Control link: serial or tcp")
	linkListen  = flag.String("link-listen", "", "TCP address for -link tcp")
	debugListen = flag.String("debug-listen", "", "Debug HTTP address (\"off\" disables)")
	journalPath = flag.String("journal", "", "Enable the guidance journal at this SQLite path")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		cfg := mustLoadConfig()
		runMigrate(flag.Args()[1:], cfg.GetJournalPath())
		return
	}

	cfg := mustLoadConfig()
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("wayguide: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func mustLoadConfig() *config.Config {
	if *configPath == "" {
		return config.Empty()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// applyFlags lets command-line flags override the config file.
func applyFlags(cfg *config.Config) {
	if *replayDir != "" {
		cfg.Camera.ReplayDir = replayDir
	}
	if *linkKind != "" {
		cfg.Link.Kind = linkKind
	}
	if *linkListen != "" {
		cfg.Link.Listen = linkListen
	}
	if *debugListen != "" {
		v := *debugListen
		if v == "off" {
			v = ""
		}
		cfg.Debug.Listen = &v
	}
	if *journalPath != "" {
		enabled := true
		cfg.Journal.Enabled = &enabled
		cfg.Journal.Path = journalPath
	}
}

// newOpener returns the frame source for cfg. Only recorded replays are
// built in; a live stereo camera is attached by supplying a replay
// directory fed by the capture pipeline.
func newOpener(cfg *config.Config, clock timeutil.Clock) (camera.Opener, error) {
	dir := cfg.GetReplayDir()
	if dir == "" {
		return nil, errors.New("no frame source configured: set camera.replay_dir or -replay")
	}
	policy := camera.RetryPolicy{
		Attempts: cfg.GetReadRetries(),
		Interval: cfg.GetReadRetryInterval(),
		Clock:    clock,
	}
	open := camera.ReplayOpener(dir)
	return func(ctx context.Context) (camera.Device, error) {
		dev, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return camera.WithRetry(dev, policy), nil
	}, nil
}

func newDetector(cfg *config.Config, clock timeutil.Clock) *escalator.Detector {
	return &escalator.Detector{
		Locator: escalator.Locator{
			Clock:  clock,
			Warmup: cfg.GetEscalatorWarmup(),
			Window: cfg.GetLocateWindow(),
		},
		Tracker: escalator.Tracker{
			Clock:  clock,
			Flow:   flow.LKTracker{},
			Window: cfg.GetTrackWindow(),
			Front:  flow.FrontParams(),
			Down:   flow.DownParams(),
		},
		Classifier: escalator.Classifier{MinStepMovementRatio: cfg.GetMinStepMovementRatio()},
	}
}

func newAcceptor(cfg *config.Config) (control.Acceptor, error) {
	switch cfg.GetLinkKind() {
	case config.LinkTCP:
		acc, err := control.ListenTCP(cfg.GetLinkListen())
		if err != nil {
			return nil, err
		}
		log.Printf("control link listening on tcp %s", acc.Addr())
		return acc, nil
	default:
		log.Printf("control link on %s", cfg.GetLinkDevice())
		return control.NewSerialAcceptor(cfg.GetLinkDevice(), cfg.GetPortOptions(), cfg.GetLinkRetryInterval()), nil
	}
}

// run wires the controller together and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	clock := timeutil.RealClock{}
	metrics := monitoring.NewMetrics()

	catalog, err := guidance.NewCatalog(cfg.GetLocale())
	if err != nil {
		return err
	}
	open, err := newOpener(cfg, clock)
	if err != nil {
		return err
	}

	var observers []service.Observer

	var jrnl *journal.Journal
	if cfg.GetJournalEnabled() {
		jrnl, err = journal.Open(cfg.GetJournalPath())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jrnl.Close()
		observers = append(observers, jrnl)
	}

	if cfg.GetMirrorEnabled() {
		m, err := mirror.Dial(mirror.Options{
			Broker:         cfg.GetMirrorBroker(),
			ClientID:       cfg.GetMirrorClientID(),
			Username:       cfg.GetMirrorUsername(),
			Password:       cfg.GetMirrorPassword(),
			TopicPrefix:    cfg.GetMirrorTopicPrefix(),
			PublishTimeout: cfg.GetMirrorPublishTimeout(),
		})
		if err != nil {
			return err
		}
		defer m.Close()
		observers = append(observers, m)
	}

	deps := service.Deps{
		Catalog:          catalog,
		Metrics:          metrics,
		Clock:            clock,
		Grid:             cfg.GetGrid(),
		VoteWindow:       cfg.GetVoteWindow(),
		ObstacleInterval: cfg.GetObstacleInterval(),
		Detector:         newDetector(cfg, clock),
	}
	orch, err := service.NewOrchestrator(service.Options{
		Open:                open,
		Build:               deps.Builder(),
		Catalog:             catalog,
		Metrics:             metrics,
		Clock:               clock,
		Observers:           observers,
		ResetDeviceOnSwitch: cfg.GetResetDeviceOnSwitch(),
		JoinTimeout:         cfg.GetJoinTimeout(),
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	acc, err := newAcceptor(cfg)
	if err != nil {
		return err
	}
	srv := control.NewServer(acc, orch, metrics, clock)

	var wg sync.WaitGroup

	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		debug := tsweb.Debugger(mux)
		debug.Handle("state", "Orchestrator state", httputil.SnapshotHandler(orch.Snapshot))
		debug.Handle("session", "Control session", httputil.SnapshotHandler(func() map[string]string {
			return map[string]string{"session": srv.Session().String()}
		}))
		mux.Handle("/metrics", metrics.Handler())
		serialmux.AttachAdminRoutes(mux, srv.Current)
		if jrnl != nil {
			if err := jrnl.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, addr, mux)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil {
			log.Printf("control server: %v", err)
		}
		log.Printf("control server routine stopped")
	}()

	wg.Wait()
	return nil
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("debug HTTP listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down debug HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}
