// Package main runs the Oracle service: it tracks one Discord user's presence
// over the gateway and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/pflag"

	rootpkg "tools.zach/dev/oracle"
	"tools.zach/dev/oracle/internal/api"
	"tools.zach/dev/oracle/internal/config"
	"tools.zach/dev/oracle/internal/gateway"
	"tools.zach/dev/oracle/internal/logger"
	"tools.zach/dev/oracle/internal/paths"
	"tools.zach/dev/oracle/internal/presence"
	"tools.zach/dev/oracle/internal/schedule"
	"tools.zach/dev/oracle/internal/state"
	"tools.zach/dev/oracle/internal/stats"
	"tools.zach/dev/oracle/internal/update"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via -ldflags "-X main.version=1.2.3".
var version = "dev"

// resolveVersion returns [version] when set by ldflags, otherwise a
// "dev+<hash>" tag from the VCS info embedded by the Go toolchain.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := pflag.String("data-dir", paths.Default().Root, "Data directory for config, PID file, and logs")
	tailLog := pflag.Int("tail-log", 0, "Print the last N log lines and exit")
	showVersion := pflag.BoolP("version", "v", false, "Print the version and exit")
	pflag.Parse()

	dirs := paths.DataDir{Root: *dataDir}
	ver := resolveVersion()

	switch {
	case *showVersion:
		fmt.Println(ver)
		return
	case *tailLog > 0:
		out, err := logger.ReadTail(dirs.Log(), *tailLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read log: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	if err := serve(dirs, ver); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the service until SIGINT or SIGTERM. Only startup failures
// (data dir, config, logger, PID lock, listener) are returned.
func serve(dirs paths.DataDir, ver string) error {
	if err := dirs.Ensure(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if alive, pid := checkStalePID(dirs); alive {
		return fmt.Errorf("oracle already running (pid %d)", pid)
	}
	if err := config.WriteDefault(dirs.Config(), rootpkg.DefaultConfigTOML); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}

	cfg, err := loadConfig(dirs)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser, err := logger.NewLogger(dirs.Log(), level, cfg.Log.MaxSizeMB, cfg.Log.Console)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)
	gateway.RouteLibraryLogs()

	token := pidToken()
	pidFile, err := writePID(dirs, token)
	if err != nil {
		return err
	}
	defer removePID(dirs, token, pidFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := stats.NewMetrics()
	app := state.New(state.Options{
		UserID:   cfg.Discord.UserID,
		Presence: presenceOptions(cfg),
		Metrics:  metrics,
	})
	httpClient := newHTTPClient()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update check panic", "error", r)
			}
		}()
		checker := update.Checker{URL: cfg.Update.ManifestURL, Client: httpClient.StandardClient()}
		checker.Check(ctx, ver)
	}()

	sess := gateway.NewSession(cfg.Discord.UserID, app, newPlatform(cfg, httpClient, app))

	srv := api.New(app, serverOptions(cfg, metrics))
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	slog.Info("oracle started",
		"version", ver,
		"port", cfg.Server.Port,
		"environment", cfg.Environment,
		"go_version", runtime.Version(),
		"data_dir", dirs.Root,
		"user_id", cfg.Discord.UserID,
	)

	go startGateway(ctx, sess, cfg.Discord.Token != "")

	sched := schedule.New()
	if err := scheduleJobs(sched, cfg, sess, app); err != nil {
		return err
	}
	sched.Start()

	watcher, err := config.NewWatcher(dirs.Config())
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Close()
		if watcher.Polling() {
			slog.Info("using polling mode for config watching")
		}
	}
	targets := reloadTargets{presence: app.Presence, server: srv, level: level}

	for running := true; running; {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
			running = false
		case err := <-serveErr:
			logger.Fail(slog.Default(), "http server stopped", "error", err)
			running = false
		case <-watcherEvents(watcher):
			next, err := loadConfig(dirs)
			if err != nil {
				slog.Warn("config reload failed, keeping current settings", "error", err)
				continue
			}
			cfg = applyReload(cfg, next, targets)
		}
	}

	shutdown(sched, sess, httpSrv)
	return nil
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig(dirs paths.DataDir) (*config.Config, error) {
	cfg, err := config.Load(dirs.Root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

// watcherEvents returns w's event channel, or nil (never ready) without a watcher.
func watcherEvents(w *config.Watcher) <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.Events()
}

// shutdown stops background jobs, closes the gateway, and drains HTTP requests.
func shutdown(sched *schedule.Scheduler, sess *gateway.Session, httpSrv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		slog.Warn("scheduled jobs still running at shutdown")
	}
	if err := sess.Close(); err != nil {
		slog.Warn("gateway close failed", "error", err)
	}
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown failed", "error", err)
	}
	slog.Info("oracle stopped")
}

// ///////////////////////////////////////////////
// Wiring
// ///////////////////////////////////////////////

// newHTTPClient returns the retrying REST client shared by the gateway and
// the update check.
func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.HTTPClient.Timeout = 20 * time.Second
	c.Logger = nil
	return c
}

// newPlatform connects the Discord adapter when a token is configured. It
// returns nil without a token or when the session cannot be built; the
// latter is recorded as a connection failure.
func newPlatform(cfg *config.Config, client *retryablehttp.Client, app *state.App) gateway.Platform {
	if cfg.Discord.Token == "" {
		return nil
	}
	p, err := gateway.NewPlatform(cfg.Discord.Token, client.StandardClient())
	if err != nil {
		slog.Error("failed to create discord session", "error", err)
		app.Connection.MarkFailed(err)
		return nil
	}
	return p
}

// startGateway connects sess and logs the outcome. tokenSet distinguishes a
// missing token from a session that could not be built.
func startGateway(ctx context.Context, sess *gateway.Session, tokenSet bool) {
	err := sess.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrNoToken) && tokenSet:
		slog.Warn("serving without a gateway connection, discord session could not be created")
	case errors.Is(err, gateway.ErrNoToken):
		slog.Warn("DISCORD_BOT_TOKEN is not set, serving without a gateway connection")
	case errors.Is(err, gateway.ErrClosed):
		slog.Debug("gateway start abandoned, shutting down")
	default:
		slog.Error("failed to connect to discord gateway", "error", err)
	}
}

// presenceOptions maps the identity overrides onto cache options.
func presenceOptions(cfg *config.Config) presence.Options {
	return presence.Options{
		DisplayName:   cfg.Discord.DisplayName,
		DefaultAvatar: cfg.Discord.DefaultAvatarURL,
	}
}

// serverOptions maps the server section onto API options.
func serverOptions(cfg *config.Config, metrics *stats.Metrics) api.Options {
	return api.Options{
		DataPath:       cfg.Server.DataPath,
		StatusPath:     cfg.Server.StatusPath,
		StatsPath:      cfg.Server.StatsPath,
		MetricsPath:    cfg.Server.MetricsPath,
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

// scheduleJobs registers the presence refresh and the statistics log.
func scheduleJobs(sched *schedule.Scheduler, cfg *config.Config, sess *gateway.Session, app *state.App) error {
	interval := time.Duration(cfg.Refresh.IntervalSeconds) * time.Second
	if err := sched.Every("presence-refresh", interval, sess.Tick); err != nil {
		return err
	}
	if cfg.Refresh.StatsLogMinutes > 0 {
		every := time.Duration(cfg.Refresh.StatsLogMinutes) * time.Minute
		if err := sched.Every("interaction-stats", every, func(context.Context) { logStats(app) }); err != nil {
			return err
		}
	}
	return nil
}

// logStats writes the interaction statistics record.
func logStats(app *state.App) {
	snap := app.Stats.Snapshot()
	slog.Info("interaction statistics",
		"uptime", snap.Uptime.Round(time.Second),
		"interactionCount", snap.Counters,
		"lastInteractionTime", snap.LastInteraction,
		"timeSinceLastInteraction", snap.SinceLastInteraction.Round(time.Second),
		"isConnected", app.Connection.Connected(),
		"memoryUsage", snap.Memory,
	)
}

// ///////////////////////////////////////////////
// Config Reload
// ///////////////////////////////////////////////

// reloadTargets are the live components a config reload updates.
type reloadTargets struct {
	presence *presence.Cache
	server   *api.Server
	level    *slog.LevelVar
}

// applyReload pushes the hot-reloadable settings of next into t and returns
// the effective config. Settings that need a restart keep their current
// values and are reported.
func applyReload(cur, next *config.Config, t reloadTargets) *config.Config {
	if keys := cur.RestartRequired(next); len(keys) > 0 {
		slog.Warn("config changes take effect after restart", "settings", keys)
	}

	out := *cur
	out.Discord.DisplayName = next.Discord.DisplayName
	out.Discord.DefaultAvatarURL = next.Discord.DefaultAvatarURL
	out.Server.AllowedOrigins = append([]string(nil), next.Server.AllowedOrigins...)
	out.Log.Level = next.Log.Level

	t.presence.SetDisplayName(out.Discord.DisplayName)
	t.presence.SetDefaultAvatar(out.Discord.DefaultAvatarURL)
	t.server.SetAllowedOrigins(out.Server.AllowedOrigins)
	t.level.Set(logger.ParseLevel(out.Log.Level))

	slog.Info("config reloaded",
		"display_name", out.Discord.DisplayName,
		"allowed_origins", out.Server.AllowedOrigins,
		"log_level", out.Log.Level,
	)
	return &out
}
