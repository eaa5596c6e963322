package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/fanout"
	"github.com/loxone-mcp/control-plane/internal/journal"
	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/mcpserver"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/ratelimit"
	"github.com/loxone-mcp/control-plane/internal/rescache"
	"github.com/loxone-mcp/control-plane/internal/resolver"
	"github.com/loxone-mcp/control-plane/internal/structure"
	"github.com/loxone-mcp/control-plane/internal/tools"
	"github.com/loxone-mcp/control-plane/internal/validation"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const serverName = "loxmcp-server"

// Exit codes: 0 normal shutdown, 1 unrecoverable startup failure,
// 2 configuration invalid.
const (
	exitStartupFailure = 1
	exitConfigInvalid  = 2
)

var rootCmd = &cobra.Command{
	Use:     serverName,
	Short:   "MCP control plane for a Loxone Miniserver",
	Long:    `loxmcp-server mediates between MCP clients issuing tool/resource calls and a Loxone Miniserver, fanning logical commands out to device sets and serving cached structure views.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", serverName, Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}
}

func runServer() {
	// A .env file is a convenience for development; absence is normal.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: LOXMCP_LOG_LEVEL: %v\n", err)
		os.Exit(exitConfigInvalid)
	}
	logging.Setup(logging.Options{Level: level, JSON: cfg.LogJSON})

	log.Info().Str("version", Version).Msg("starting MCP control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := deviceclient.New(cfg.Device)
	defer client.Stop()

	structCache := structure.New(client)
	if err := structCache.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("cannot load structure from controller")
		os.Exit(exitStartupFailure)
	}

	// Room-name heuristics give every recognizable room a zone so
	// scope=zone fan-out and quiet-hours warnings work out of the box;
	// explicit assignments, when a deployment adds them, take precedence.
	zoneRegistry := zones.New()
	zones.InferFromRooms(zoneRegistry, structCache.Rooms())

	values := resolver.New(structCache, client, client, resolver.Config{})

	sensorJournal := journal.New(cfg.Journal)
	if err := sensorJournal.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("journal restore failed, starting empty")
	}
	sensorJournal.StartSync()
	defer sensorJournal.Stop()

	// Every state transition the live feed observes lands in the journal,
	// tagged with whatever the structure cache knows about the device.
	client.SetStateHook(func(uuid string, old, newVal interface{}) {
		if d, ok := structCache.Device(uuid); ok {
			sensorJournal.Record(uuid, old, newVal, d.Name, d.DeviceType, d.RoomUUID)
			return
		}
		sensorJournal.Record(uuid, old, newVal, "", "", "")
	})
	client.StartLivePush(ctx)

	limiter := ratelimit.New(cfg.Rate)
	limiter.StartJanitor()
	defer limiter.Stop()

	vcfg := models.DefaultValidationConfig()
	sanitizer := validation.NewSanitizer(vcfg)
	if cfg.PatternFile != "" {
		if err := sanitizer.Watch(cfg.PatternFile); err != nil {
			log.Warn().Err(err).Msg("pattern file watch failed, using built-in patterns")
		}
	}
	defer sanitizer.Close()
	pipeline := validation.New(
		validation.NewSchemaValidator(validation.DefaultToolSchemas()),
		sanitizer,
		validation.NewBusinessRules(
			validation.DefaultAuthRequirements(),
			validation.DefaultRateLimitMultipliers(),
			validation.DefaultResourceGates(),
		),
		validation.NewSecurityValidator(vcfg),
	)

	engine := fanout.New(structCache, client, zoneRegistry)

	registry := tools.NewRegistry()
	tools.Register(registry, tools.Deps{
		Structure: structCache,
		Client:    client,
		Fanout:    engine,
		Journal:   sensorJournal,
		Zones:     zoneRegistry,
	})

	resources := rescache.New(rescache.DefaultClassification(), mcpserver.BuildResourceReader(mcpserver.ResourceDeps{
		Structure: structCache,
		Journal:   sensorJournal,
		Resolver:  values,
		Zones:     zoneRegistry,
		Client:    client,
		Name:      serverName,
		Version:   Version,
	}))
	resources.SetCatalog(mcpserver.ResourceCatalog())

	server := mcpserver.New(mcpserver.Deps{
		Structure: structCache,
		Journal:   sensorJournal,
		Resources: resources,
		Limiter:   limiter,
		Pipeline:  pipeline,
		Tools:     registry,
		Zones:     zoneRegistry,
		Name:      serverName,
		Version:   Version,
	})

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		os.Exit(exitStartupFailure)
	case <-sigCh:
		log.Info().Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// Flush what the journal accumulated since its last periodic sync.
	if err := sensorJournal.Sync(); err != nil {
		log.Error().Err(err).Msg("final journal sync failed")
	}

	cancel()
	log.Info().Msg("server stopped")
}
