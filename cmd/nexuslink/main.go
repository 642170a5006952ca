package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dalnet/nexuslink/internal/acl"
	"github.com/dalnet/nexuslink/internal/automode"
	"github.com/dalnet/nexuslink/internal/config"
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/irc"
	"github.com/dalnet/nexuslink/internal/logging"
	"github.com/dalnet/nexuslink/internal/match"
	"github.com/dalnet/nexuslink/internal/state"
	"github.com/dalnet/nexuslink/internal/storage"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const daemonEnv = "NEXUSLINK_DAEMON"

func main() {
	cmd := &cli.Command{
		Name:    "nexuslink",
		Usage:   "links IRC networks and keeps channel access in sync",
		Version: fmt.Sprintf("%s (built %s, commit %s)", version, buildDate, gitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "./config.yaml", Usage: "path to the configuration file", Sources: cli.EnvVars("NEXUSLINK_CONFIG")},
			&cli.BoolFlag{Name: "foreground", Aliases: []string{"x"}, Usage: "run in the foreground instead of daemonizing", Sources: cli.EnvVars("NEXUSLINK_FOREGROUND")},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable debug logging and raw protocol traces", Sources: cli.EnvVars("NEXUSLINK_VERBOSE")},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	irc.Version = version
	irc.BuildDate = buildDate
	irc.GitCommit = gitCommit

	configPath, err := filepath.Abs(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	foreground := cmd.Bool("foreground")
	if !foreground && os.Getenv(daemonEnv) != "1" {
		return daemonize()
	}

	var logPaths []string
	if !foreground {
		logPaths = []string{filepath.Join(cfg.DataDir, "nexuslink.log")}
	}
	log, restore, err := logging.New(cmd.Bool("verbose"), logPaths...)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer restore()

	if err := writePIDFile(cfg.DataDir); err != nil {
		log.Warnw("Could not write PID file", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, cmd.Bool("verbose"), log)
}

func serve(ctx context.Context, cfg *config.Config, verbose bool, log *zap.SugaredLogger) error {
	audit, err := storage.OpenAuditLog(cfg.DataDir)
	if err != nil {
		return err
	}

	bus := hook.NewBus(log)
	networks := state.NewRegistry()
	hub, err := irc.NewHub(cfg, bus, networks, audit, log, verbose)
	if err != nil {
		return fmt.Errorf("failed to create IRC sessions: %w", err)
	}

	store := acl.NewStore(cfg.Database, log)
	store.Load()
	svc := automode.New(bus, store, match.New(store, log), hub, networks, log)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start automode: %w", err)
	}
	if err := hub.RegisterCommands(svc.Commands()...); err != nil {
		return err
	}

	flusher := acl.NewFlusher(store, cfg.SaveDelay)
	flusher.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		for r := range flusher.Results() {
			switch {
			case r.Err != nil:
				log.Errorw("Could not save access database", "path", store.Path(), "error", r.Err, "final", r.Final)
			case r.Final:
				log.Infow("Access database saved on shutdown", "path", store.Path(), "entries", store.Len())
			default:
				log.Debugw("Access database saved", "path", store.Path())
			}
		}
		return nil
	})

	log.Infow("nexuslink started", "version", version, "networks", len(cfg.Networks))
	<-gctx.Done()
	log.Infow("Shutting down")

	svc.Stop()
	saveErr := flusher.Stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return saveErr
}

// daemonize re-executes the binary detached from the terminal; the child
// runs with the daemon marker set and takes over from there
func daemonize() error {
	child := exec.Command(os.Args[0], os.Args[1:]...)
	child.Env = append(os.Environ(), daemonEnv+"=1")
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to fork: %w", err)
	}
	fmt.Printf("Now becoming a daemon\nMy pid is %d, this has been written to pid.txt\n", child.Process.Pid)
	return nil
}

func writePIDFile(dataDir string) error {
	pid := os.Getpid()
	return os.WriteFile(filepath.Join(dataDir, "pid.txt"), []byte(fmt.Sprintf("%d\n", pid)), 0644)
}
