package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/spritegate/internal/agent"
	"github.com/sprite-ai/spritegate/internal/config"
	"github.com/sprite-ai/spritegate/internal/history"
	"github.com/sprite-ai/spritegate/internal/identity"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/provider"
	"github.com/sprite-ai/spritegate/internal/server"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/storage"
	"github.com/sprite-ai/spritegate/internal/terminal"
	"github.com/sprite-ai/spritegate/internal/workspace"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the spritegate server",
	Long: `Start the gateway: HTTP health and session endpoints plus the chat,
terminal, and files WebSocket channels, backed by per-user sessions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Directory to load project config from")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveHostname != "" {
		cfg.Server.Host = serveHostname
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:     logging.ParseLevel(level),
		Output:    os.Stderr,
		Pretty:    cfg.Log.Pretty || printLogs,
		LogToFile: cfg.Log.LogToFile,
		LogDir:    cfg.Log.LogDir,
	})
	defer logging.Close()

	log := logging.Component("serve")
	log.Info().Str("version", Version).Msg("starting spritegate")

	resolver := identity.New(cfg.Identity.JWTSecret, cfg.Identity.SpritePrefix)

	// History is optional; an empty path disables persistence entirely.
	var hist *history.Store
	var recorder *history.Recorder
	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0755); err != nil {
			return err
		}
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer hist.Close()
		recorder = history.NewRecorder(hist, resolver.SpriteName)
		defer recorder.Close()
	}

	store := storage.New(paths.StoragePath())
	provisioner := workspace.NewProvisioner(
		cfg.Workspace.Root,
		store,
		time.Duration(cfg.Workspace.ProvisionTimeoutSeconds)*time.Second,
	)

	ctx := context.Background()
	providers := provider.InitializeProviders(ctx, cfg)

	profile, err := agent.LoadProfile(cfg.Agent.ProfileDir, cfg.Agent.Profile)
	if err != nil {
		return err
	}
	executor := agent.New(agent.Config{
		Providers: providers,
		History:   hist,
		Profile:   profile,
		MaxSteps:  cfg.Agent.MaxSteps,
		Tools:     cfg.Agent.Tools,
	})

	registry := session.NewRegistry(session.Config{
		MaxQueueSize:  cfg.Session.MaxQueueSize,
		IdleGrace:     time.Duration(cfg.Session.IdleGraceSeconds) * time.Second,
		CancelOnEvict: cfg.Session.CancelOnEvict,
	}, executor, resolver.SpriteName)
	provisioner.Bind(registry)

	srv := server.New(&server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		EnableCORS:  cfg.Server.EnableCORS,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteBuffer: cfg.Session.WriteBufferSize,
	}, server.Deps{
		Registry:    registry,
		Resolver:    resolver,
		History:     hist,
		Provisioner: provisioner,
		Terminal: terminal.Config{
			Shell: cfg.Terminal.Shell,
			Cols:  cfg.Terminal.Cols,
			Rows:  cfg.Terminal.Rows,
		},
		IgnorePatterns: cfg.Workspace.IgnorePatterns,
	})

	go func() {
		log.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	registry.Shutdown()

	log.Info().Msg("stopped")
	return nil
}
