package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/krellgit/claude-autonomy-tracker/internal/db"
	"github.com/krellgit/claude-autonomy-tracker/internal/digest"
	"github.com/krellgit/claude-autonomy-tracker/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the leaderboard web server",
		Long: `Serves the JSON API, the leaderboard pages and the live event stream.
When a digest destination is configured the digest scheduler runs alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, st, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close(st.DB())

	if port > 0 {
		cfg.Server.Port = port
	}
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := server.New(server.Options{
		Store:  st,
		Config: cfg.Server,
		Log:    log,
		Out:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	var sched *digest.Scheduler
	if cfg.Digest.Enabled() {
		notifiers, err := digest.Notifiers(cfg.Digest)
		if err != nil {
			return err
		}
		sched = digest.NewScheduler(st, cfg.Digest, log, notifiers...)
		sched.UseLedger(st, instanceName())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	}
	return err
}

// instanceName identifies this process among server replicas.
func instanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
