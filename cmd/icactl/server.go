package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/api"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/backoff"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/config"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/executor"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/instagram"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/notify"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/scheduler"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/session"
	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the icactl daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running icactl daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "icactl.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "icactl version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start a second daemon against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("icactl is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("icactl is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	sessions := session.NewStore(store, session.FileRefresher{Path: cfg.Account.SessionPath})
	fetcher := instagram.New(cfg.Instagram.BaseURL)

	var notifier notify.Notifier
	var sender executor.ChannelSender
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		tg := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		notifier = tg
		sender = tg
		slog.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram not configured, notifications and post jobs disabled")
	}

	exec := executor.NewRemote(fetcher, sessions, store, sender)
	policy := backoff.NewPolicy(
		cfg.Scheduler.BaseBackoffDuration(),
		cfg.Scheduler.MaxBackoffDuration(),
		cfg.Scheduler.MaxAttempts,
	)
	sched := scheduler.New(store, exec, sessions, notifier, policy, scheduler.Config{
		Account:      cfg.Account.ID,
		Workers:      cfg.Scheduler.Workers,
		PollInterval: cfg.Scheduler.PollDuration(),
	})

	handler := api.NewAppHandler(api.Deps{
		Store:       store,
		Sessions:    sessions,
		Account:     cfg.Account.ID,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		Token:       apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped with error", "error", err)
		}
	}()
	go scheduler.NewSweeper(store, cfg.Scheduler.RetentionDuration()).Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "icactl listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	// Let in-flight attempts finish before the store closes.
	<-schedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("icactl is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop icactl (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to icactl (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Account", "%s", cfg.Account.ID)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if resp == nil || resp.StatusCode != 200 {
		return nil
	}

	apiC, err := newAPIClient()
	if err != nil {
		return nil
	}
	statusResp, err := apiC.get(ctx, "/status")
	if err != nil {
		return nil
	}
	var st struct {
		Jobs    map[string]int `json:"jobs"`
		Session string         `json:"session"`
	}
	if err := decodeJSON(statusResp, &st); err != nil {
		return nil
	}
	printStatus("Session", "%s", st.Session)
	for _, state := range []string{"pending", "running", "succeeded", "exhausted", "cancelled"} {
		if n := st.Jobs[state]; n > 0 {
			printStatus("Jobs "+state, "%d", n)
		}
	}
	return nil
}
