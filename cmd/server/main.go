package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"treasure-map/server/internal/api/gateway"
	"treasure-map/server/internal/content"
	"treasure-map/server/internal/db"
	"treasure-map/server/internal/quest"
	"treasure-map/server/pkg/config"
	"treasure-map/server/pkg/logging"
)

func main() {
	// Subcommands that need no configuration
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "validate":
			os.Exit(handleValidate(os.Args[2:]))
		case "help":
			printUsage()
			return
		}
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			handleMigrate(cfg, logger)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	registry, err := content.Load(cfg.Quests.RegistryPath)
	if err != nil {
		logger.Fatal("Failed to load quest registry", zap.Error(err))
	}
	logger.Info("quest registry loaded",
		zap.Int("quests", registry.Len()),
		zap.Int("rewards", len(registry.Rewards())))

	// Initialize database
	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer dbConn.Close()

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(dbConn, logger); err != nil {
			logger.Fatal("Migration failed", zap.Error(err))
		}
	}

	// Initialize API Gateway
	gw := gateway.NewAPIGateway(*cfg, logger, dbConn, registry)

	// Start server in background
	go func() {
		if err := gw.Start(); err != nil {
			logger.Fatal("Gateway failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Shutdown(ctx); err != nil {
		logger.Error("Gateway shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func handleMigrate(cfg *config.Config, logger *zap.Logger) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: server migrate [up|down|status]")
		os.Exit(1)
	}

	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer dbConn.Close()

	var errMig error
	command := os.Args[2]
	switch command {
	case "up":
		errMig = db.RunMigrations(dbConn, logger)
	case "down":
		errMig = db.Rollback(dbConn, logger)
	case "status":
		errMig = db.Status(dbConn, logger)
	default:
		fmt.Printf("Unknown migration command: %s\n", command)
		os.Exit(1)
	}

	if errMig != nil {
		logger.Fatal("Migration failed", zap.Error(errMig))
	}
}

// handleValidate checks a registry file, or the embedded map when no file
// is given, and returns the process exit code.
func handleValidate(args []string) int {
	var path string
	if len(args) > 0 {
		path = args[0]
	}

	registry, err := content.Load(path)
	if err != nil {
		if errors.Is(err, quest.ErrMalformedRegistry) {
			fmt.Fprintf(os.Stderr, "invalid registry: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "failed to read registry: %v\n", err)
		return 1
	}

	fmt.Printf("ok: %d quests, %d rewards\n", registry.Len(), len(registry.Rewards()))
	return 0
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  server                   - Start the API server")
	fmt.Println("  server migrate up        - Run pending migrations")
	fmt.Println("  server migrate down      - Rollback the last migration")
	fmt.Println("  server migrate status    - Show migration status")
	fmt.Println("  server validate [file]   - Check a quest registry file")
	fmt.Println("  server help              - Show this help message")
}
