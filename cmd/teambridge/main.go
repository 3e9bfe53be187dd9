// Command teambridge runs and manages filesystem-coordinated worker teams.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"teambridge/internal/bridge"
	"teambridge/pkg/archive"
	"teambridge/pkg/config"
	"teambridge/pkg/heartbeat"
	"teambridge/pkg/logx"
	"teambridge/pkg/mailbox"
	"teambridge/pkg/metrics"
	"teambridge/pkg/names"
	"teambridge/pkg/session"
	"teambridge/pkg/task"
	"teambridge/pkg/team"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		root        = flag.String("root", ".", "Shared coordination root directory")
		teamName    = flag.String("team", "", "Team name")
		workerName  = flag.String("worker", "", "Worker name")
		workDir     = flag.String("workdir", "", "Working directory for spawned sessions")
		reason      = flag.String("reason", "operator request", "Reason recorded on shutdown signals")
		run         = flag.Bool("run", false, "Run the worker poll loop")
		spawn       = flag.Bool("spawn", false, "Start the worker's tmux session")
		kill        = flag.Bool("kill", false, "Kill the worker's tmux session")
		stop        = flag.Bool("signal-shutdown", false, "Ask the worker to stop at its next poll")
		status      = flag.Bool("status", false, "Show heartbeats and registered workers for the team")
		attach      = flag.Bool("attach", false, "Attach to the worker's tmux session")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("teambridge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	logger := logx.NewLogger("teambridge")
	if err := dispatch(logger, *root, *teamName, *workerName, *workDir, *reason,
		*run, *spawn, *kill, *stop, *status, *attach); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

//nolint:revive // Flag dispatch reads better flat than as a mode enum.
func dispatch(logger *logx.Logger, root, teamName, workerName, workDir, reason string,
	run, spawn, kill, stop, status, attach bool) error {
	resolver, err := config.NewResolver(root)
	if err != nil {
		return err
	}
	cfg, err := config.Load(resolver.ConfigPath())
	if err != nil {
		return err
	}

	switch {
	case run:
		return runWorker(logger, resolver, cfg, teamName, workerName)
	case spawn:
		return withSupervisor(logger, cfg, func(ctx context.Context, sup *session.Supervisor) error {
			return sup.CreateSession(ctx, teamName, workerName, workDir)
		})
	case kill:
		return withSupervisor(logger, cfg, func(ctx context.Context, sup *session.Supervisor) error {
			return sup.KillSession(ctx, teamName, workerName)
		})
	case stop:
		return signalShutdown(logger, resolver, teamName, workerName, reason)
	case status:
		return showStatus(resolver, cfg, teamName)
	case attach:
		return attachSession(teamName, workerName)
	default:
		flag.Usage()
		return fmt.Errorf("one of -run, -spawn, -kill, -signal-shutdown, -status, -attach is required")
	}
}

func requireIdentity(teamName, workerName string) error {
	if teamName == "" || workerName == "" {
		return fmt.Errorf("-team and -worker are required")
	}
	// Reject injection-shaped names before any path or tmux use.
	if _, err := names.Sanitize(teamName); err != nil {
		return err
	}
	if _, err := names.Sanitize(workerName); err != nil {
		return err
	}
	return nil
}

func runWorker(logger *logx.Logger, resolver *config.Resolver, cfg config.Config, teamName, workerName string) error {
	if err := requireIdentity(teamName, workerName); err != nil {
		return err
	}
	logger = logger.WithAgentID(team.AgentID(workerName, teamName))

	tasks := task.NewStore(resolver.TasksDir())
	mail := mailbox.New(resolver.TeamsDir())
	beats := heartbeat.NewRegistry(resolver.HeartbeatDir())
	recorder := metrics.NewRecorder()

	opts := bridge.Options{
		Recorder:    recorder,
		MetricsPath: bridge.MetricsPathFor(resolver.StateDir()),
	}

	hist, err := archive.Open(filepath.Join(resolver.StateDir(), "history.db"))
	if err != nil {
		// Coordination works without history; log and continue.
		logger.Warn("Task history unavailable: %v", err)
	} else {
		defer hist.Close()
		opts.Archive = hist
	}

	registry := team.NewRegistry(resolver.TeamConfigDir(), resolver.StateDir())
	if _, err := registry.RegisterWorker(teamName, workerName, cfg.Backend.Provider,
		cfg.Backend.Model, fmt.Sprintf("%d", os.Getpid()), resolver.Root()); err != nil {
		logger.Warn("Failed to register worker: %v", err)
	}
	defer func() {
		if err := registry.UnregisterWorker(teamName, workerName); err != nil {
			logger.Warn("Failed to unregister worker: %v", err)
		}
		mail.CleanupWorkerFiles(teamName, workerName)
	}()

	executor := newBackendExecutor(cfg.Backend, logger)
	runner := bridge.NewRunner(teamName, workerName, cfg, tasks, mail, beats,
		executor, logger, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func withSupervisor(logger *logx.Logger, cfg config.Config,
	fn func(context.Context, *session.Supervisor) error) error {
	sup := session.NewSupervisor(session.RealTmux{}, cfg.Backend.Command, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, sup)
}

func signalShutdown(logger *logx.Logger, resolver *config.Resolver, teamName, workerName, reason string) error {
	if err := requireIdentity(teamName, workerName); err != nil {
		return err
	}
	mail := mailbox.New(resolver.TeamsDir())
	sig, err := mail.WriteShutdownSignal(teamName, workerName, reason)
	if err != nil {
		return err
	}
	logger.Info("Shutdown signal %s issued for %s/%s", sig.RequestID, teamName, workerName)
	return nil
}

func showStatus(resolver *config.Resolver, cfg config.Config, teamName string) error {
	if teamName == "" {
		return fmt.Errorf("-team is required")
	}

	beats := heartbeat.NewRegistry(resolver.HeartbeatDir())
	alive, err := beats.List(teamName)
	if err != nil {
		return err
	}

	fmt.Printf("Team %s\n", teamName)
	fmt.Println("Heartbeats:")
	if len(alive) == 0 {
		fmt.Println("  (none)")
	}
	for _, hb := range alive {
		state := "dead"
		if beats.IsAlive(teamName, hb.WorkerName, cfg.HeartbeatMaxAge.Std()) {
			state = "alive"
		}
		fmt.Printf("  %-20s %-12s %-6s pid=%d errors=%d last=%s\n",
			hb.WorkerName, hb.Status, state, hb.PID, hb.ConsecutiveErrors, hb.LastPollAt)
	}

	registry := team.NewRegistry(resolver.TeamConfigDir(), resolver.StateDir())
	fmt.Println("Registered workers:")
	workers := registry.ListWorkers(teamName)
	if len(workers) == 0 {
		fmt.Println("  (none)")
	}
	for _, w := range workers {
		fmt.Printf("  %-20s provider=%-10s model=%-12s agentId=%s\n",
			w.Name, w.Provider, w.Model, w.AgentID)
	}
	return nil
}

func attachSession(teamName, workerName string) error {
	if err := requireIdentity(teamName, workerName); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("refusing to attach: stdin is not a terminal")
	}

	name, err := names.SessionName(teamName, workerName)
	if err != nil {
		return err
	}

	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("attach tmux session %s: %w", name, err)
	}
	return nil
}
