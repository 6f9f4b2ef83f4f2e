package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/osp/internal/api"
	"github.com/joescharf/osp/internal/daemon"
	"github.com/joescharf/osp/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background refresh",
	Long: `Run the REST API server in the foreground together with the background
refresh: queued batches run one after another with a short pause, and the
whole catalog is queued again every refresh.daily_interval.

Use 'osp serve start' to run it detached from the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmdContext(cmd.Context()))
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file of the background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "osp-serve.pid"))
}

// serveLogPath returns the log file of the background server.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "osp-serve.log")
}

func serveRun(ctx context.Context) error {
	if _, err := stateDir(); err != nil {
		return err
	}
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pf.Release(); err != nil {
			slog.Warn("release PID file", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	s, err := getStore()
	if err != nil {
		return err
	}
	r := refresherFunc(s)
	q, err := newRunner(s, r, nil)
	if err != nil {
		return err
	}
	sched := queue.NewTimerScheduler(func() { q.Trigger(ctx) })
	q.SetScheduler(sched)
	defer sched.Cancel()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("serve.port")),
		Handler:           api.NewServer(s, r, q).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go q.Watch(ctx, viper.GetDuration("refresh.daily_interval"), viper.GetDuration("refresh.batch_delay"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	ui.Info("Serving API at http://localhost%s", srv.Addr)
	slog.Info("server started", "addr", srv.Addr, "pid", os.Getpid())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	if pf.Locked() {
		return fmt.Errorf("server already running")
	}
	if _, err := stateDir(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("serve.port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	if dryRun {
		ui.DryRunMsg("Would start: %s %v", exe, args)
		return nil
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	c := exec.Command(exe, args...)
	c.Stdout = logFile
	c.Stderr = logFile
	setDaemonAttrs(c)
	if err := c.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := c.Process.Pid
	_ = c.Process.Release()

	ui.Success("Server started (PID %d), logging to %s", pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		if pid != 0 {
			_ = pf.Remove()
		}
		return daemon.ErrNotRunning
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", pid)
		return nil
	}

	pid, forced, err := pf.Stop(5 * time.Second)
	if err != nil {
		return err
	}
	if forced {
		ui.Warning("Server did not stop in time and was killed (PID %d)", pid)
		return nil
	}
	ui.Success("Server stopped (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}
	ui.Success("Server running (PID %d) on port %d", pid, viper.GetInt("serve.port"))
	ui.VerboseLog("Log: %s", serveLogPath())
	return nil
}
