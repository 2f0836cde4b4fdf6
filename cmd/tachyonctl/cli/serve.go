package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"project-tachyon/internal/api"
	"project-tachyon/internal/config"
	"project-tachyon/internal/logger"
	"project-tachyon/internal/orchestrator"
	"project-tachyon/internal/ratelimit"
	"project-tachyon/internal/schedule"
	"project-tachyon/internal/security"
	"project-tachyon/internal/storage"
)

const orchestratorShutdownTimeout = 10 * time.Second

var (
	servePort        int
	serveDownloadDir string
	serveHosts       []string
	serveRateLimit   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane server that add/list/pause/etc. talk to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 4444, "control-plane listen port (loopback only)")
	serveCmd.Flags().StringVar(&serveDownloadDir, "dest", ".", "default destination directory for new jobs")
	serveCmd.Flags().StringSliceVar(&serveHosts, "allowed-hosts", nil, "host allowlist; empty allows any https host")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", 0, "aggregate bandwidth cap in bytes/sec; 0 disables shaping")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	slogger, logEvents, err := logger.New(os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := storage.NewDefault()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	cfg := config.New(store)
	token := cfg.GetAPIToken()
	slogger.Info("control-plane token: "+token, "token", token)

	limiter := ratelimit.New()
	if serveRateLimit > 0 {
		limiter.SetLimit(serveRateLimit)
	}

	orch := orchestrator.New(orchestrator.Options{
		Concurrency:    cfg.GetQueueConcurrency(),
		AllowedHosts:   serveHosts,
		CleanupAge:     cfg.GetCleanupAge(),
		MaxCompleted:   cfg.GetMaxCompleted(),
		History:        store,
		Logger:         slogger,
		Limiter:        limiter,
		VerifyChecksum: cfg.GetEnableIntegrityCheck(),
	})

	logEvents.SetSink(func(ev logger.LogEvent) { orch.EmitLog(ev) })

	if recs, err := store.RecoverableJobs(); err != nil {
		slogger.Warn("failed to load recoverable jobs", "error", err)
	} else if len(recs) > 0 {
		orch.Recover(recs)
	}

	sched := schedule.New(slogger, orch)
	sched.Start()
	defer sched.Stop()

	audit := security.NewAuditLogger(slogger, serveDownloadDir)
	defer audit.Close()

	server := api.New(orch, cfg, audit, serveDownloadDir)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slogger.Info("shutting down")
		cancel()
	}()

	fmt.Printf("tachyonctl serve listening on 127.0.0.1:%d (token above)\n", servePort)

	err = server.ListenAndServe(runCtx, servePort)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), orchestratorShutdownTimeout)
	defer shutdownCancel()
	orch.Shutdown(shutdownCtx)
	return err
}
