package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mikeboe/research-crew/pkg/archive"
	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/database"
	"github.com/mikeboe/research-crew/pkg/research"
	"github.com/mikeboe/research-crew/pkg/research/tools"
	"github.com/mikeboe/research-crew/pkg/runner"
	"github.com/mikeboe/research-crew/pkg/server"
	"github.com/mikeboe/research-crew/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	var (
		runStore store.Store = store.NewMemoryStore()
		arch     *archive.Archive
	)
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		runStore = store.NewPostgresStore(db)

		arch, err = archive.Open(ctx, db, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize article archive: %v", err)
		}
		logger.Info("Using Postgres store", "collection", cfg.CollectionName)
	} else {
		logger.Info("DATABASE_URL not set, keeping runs in memory")
	}

	r := runner.New(research.NewADKEngine(logger), cfg.Model, logger)
	r.SearchOptions = []tools.Option{
		tools.WithBaseURL(cfg.SerperURL),
		tools.WithMaxResults(cfg.SearchResults),
	}

	svc := server.NewService(r, runStore, config.NewKeyState(cfg.EnvKeys()), logger)
	svc.Archive = arch
	svc.OutputFile = cfg.OutputFile

	handler, err := server.NewHandler(svc)
	if err != nil {
		log.Fatalf("Failed to create handler: %v", err)
	}

	engine := gin.Default()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Mcp-Session-Id"},
		AllowCredentials: false,
	}))

	handler.RegisterRoutes(engine)

	fmt.Printf("Server starting on port %s\n", cfg.Port)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
