package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand implements the serve command.
func ServeCommand(args []string) error {
	dir := "."
	var configPath string
	var port string
	var host string
	var watch *bool

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--watch" || arg == "-w":
			watchVal := true
			watch = &watchVal
		case arg == "--port" || arg == "-p":
			port, err = flagValue(args, &i)
		case arg == "--host":
			host, err = flagValue(args, &i)
		case arg == "--config" || arg == "-c":
			configPath, err = flagValue(args, &i)
		case !strings.HasPrefix(arg, "-"):
			dir = arg
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
		if err != nil {
			return err
		}
	}

	cfg, absDir, err := loadConfig(dir, configPath)
	if err != nil {
		return err
	}

	// CLI flags override config
	if port != "" {
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port: %s", port)
		}
		cfg.Server.Port = portInt
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if watch != nil {
		cfg.Watch = *watch
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := bridge.NewRegistry(log)
	if err := a.Register(registry); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	srv := server.New(cfg, registry, log)
	defer srv.Close()

	fmt.Printf("📒 Borrow Checker\n\n")
	fmt.Printf("Serving: %s\n", absDir)
	fmt.Printf("\nGroups:\n")
	for _, g := range a.Groups() {
		fmt.Printf("  %-20s %s\n", g.ID, g.Name)
	}

	if cfg.Watch {
		dirs := a.WatchDirs()
		if len(dirs) == 0 {
			fmt.Printf("\n⚠️  Watch mode needs a dir store; nothing to watch\n")
		}
		for _, d := range dirs {
			if err := srv.EnableWatch(d, func(string) { a.Invalidate() }); err != nil {
				return fmt.Errorf("failed to enable watch mode: %w", err)
			}
		}
		if len(dirs) > 0 {
			fmt.Printf("\n👀 Watch mode enabled - pages reload when ledger files change\n")
		}
	}

	if interval := cfg.GetRefreshInterval(); interval > 0 {
		refresher := app.NewRefresher(a, interval, func(groupID string) {
			a.Invalidate()
			srv.BroadcastReload(groupID)
		})
		refresher.Start(ctx)
		defer refresher.Stop()
		fmt.Printf("🔄 Pulling remotes every %s\n", interval)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("\n🌐 Server running at http://%s\n", addr)
	fmt.Printf("🔌 Commands at POST /api/invoke/{command}\n")
	fmt.Printf("Press Ctrl+C to stop\n\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
