package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"tabletop-server/internal/server"
	"tabletop-server/internal/storage"
	"tabletop-server/internal/tabletop"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "tabletop-server",
		Usage: "real-time session server for virtual tabletop games",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Usage: "snapshot backend: sqlite, postgres, redis or memory (overrides STORE_DRIVER)"},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and websocket server",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port (overrides PORT)"},
				},
				Action: serve,
			},
			{
				Name:  "sessions",
				Usage: "inspect stored session snapshots",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list stored sessions, newest first",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of sessions"},
						},
						Action: listSessions,
					},
					{
						Name:      "delete",
						Usage:     "delete a stored session snapshot",
						ArgsUsage: "<session-id>",
						Action:    deleteSession,
					},
					{
						Name:      "new",
						Usage:     "store an empty session and print its id",
						ArgsUsage: "[session-id]",
						Action:    newSession,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies command-line overrides on top of the environment.
func loadConfig(cmd *cli.Command) (server.Config, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return server.Config{}, err
	}
	if cmd.IsSet("store") {
		cfg.StoreDriver = cmd.String("store")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cmd *cli.Command) (storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return server.OpenStore(ctx, cfg)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := server.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	customServer, httpServer := server.NewServer(cfg, store, logger)
	if err := customServer.Restore(ctx); err != nil {
		logger.Error("failed to restore sessions", slog.String("error", err.Error()))
	}

	done := make(chan bool, 1)
	go gracefulShutdown(logger, customServer, httpServer, done)

	logger.Info("listening",
		slog.String("addr", httpServer.Addr),
		slog.String("store", cfg.StoreDriver))
	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	<-done
	logger.Info("graceful shutdown complete")
	return nil
}

func gracefulShutdown(logger *slog.Logger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Clients are told first so their sockets drain before the listener goes.
	if err := customServer.Shutdown(ctx); err != nil {
		logger.Error("error during session shutdown", slog.String("error", err.Error()))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server forced to shutdown", slog.String("error", err.Error()))
	}

	done <- true
}

func listSessions(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, storage.NormalizeLimit(cmd.Int("limit")))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", rec.ID, rec.Version, rec.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func deleteSession(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("usage: sessions delete <session-id>")
	}
	store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func newSession(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	id := cmd.Args().First()
	if id == "" {
		id = server.GenerateSessionID(func(candidate string) bool {
			_, err := store.Load(ctx, candidate)
			return err == nil
		})
	} else if err := server.ValidateSessionID(id); err != nil {
		return err
	}

	data, err := tabletop.NewSession(id, time.Now()).Snapshot()
	if err != nil {
		return err
	}
	rec, err := store.Save(ctx, id, data)
	if err != nil {
		return err
	}
	fmt.Printf("%s (version %d)\n", rec.ID, rec.Version)
	return nil
}
