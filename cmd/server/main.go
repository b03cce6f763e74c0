// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkdoc-go/internal/config"
	"checkdoc-go/internal/generation"
	"checkdoc-go/internal/handler"
	"checkdoc-go/internal/middleware"
	"checkdoc-go/internal/model"
	"checkdoc-go/internal/pipeline"
	"checkdoc-go/internal/repository"
	"checkdoc-go/internal/retrieval"
	"checkdoc-go/internal/service"
	"checkdoc-go/pkg/database"
	"checkdoc-go/pkg/embedding"
	"checkdoc-go/pkg/es"
	"checkdoc-go/pkg/kafka"
	"checkdoc-go/pkg/llm"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/retry"
	"checkdoc-go/pkg/storage"
	"checkdoc-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Configuration and logging.
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 2. Infrastructure clients.
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	if err := database.DB.AutoMigrate(
		&model.Document{}, &model.Chunk{},
		&model.Checklist{}, &model.ChecklistItem{},
		&model.ChecklistRun{}, &model.ItemOutcome{},
	); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	index, err := es.NewIndex(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("elasticsearch initialization failed: %v", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 3. Repositories.
	docRepo := repository.NewDocumentRepository(database.DB)
	checklistRepo := repository.NewChecklistRepository(database.DB)
	runRepo := repository.NewRunRepository(database.DB, database.RDB)

	// 4. Pipeline components and services.
	policy := retry.NewPolicy(cfg.Retry)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding, policy)
	llmClient := llm.NewClient(cfg.LLM, policy)

	chunker, err := pipeline.NewChunker(cfg.Chunking)
	if err != nil {
		log.Fatalf("invalid chunking configuration: %v", err)
	}
	processor := pipeline.NewProcessor(docRepo, tikaClient, chunker, embeddingClient, index)
	retriever := retrieval.NewRetriever(embeddingClient, index, cfg.Retrieval)
	generator := generation.NewGenerator(llmClient)

	documentService := service.NewDocumentService(docRepo, index, producer)
	checklistService := service.NewChecklistService(checklistRepo)
	runService := service.NewRunService(runRepo, checklistRepo, docRepo, retriever, generator, producer)

	// 5. Background consumers.
	go kafka.StartIndexConsumer(cfg.Kafka, processor)
	go kafka.StartRunConsumer(cfg.Kafka, runService)

	// 6. Router.
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	{
		documents := apiV1.Group("/documents")
		{
			documentHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.POST("/:id/reindex", documentHandler.Reindex)
		}

		checklists := apiV1.Group("/checklists")
		{
			checklistHandler := handler.NewChecklistHandler(checklistService)
			checklists.POST("", checklistHandler.Create)
			checklists.GET("", checklistHandler.List)
			checklists.GET("/:id", checklistHandler.Get)
			checklists.PUT("/:id", checklistHandler.Update)
			checklists.DELETE("/:id", checklistHandler.Delete)
			checklists.POST("/:id/items", checklistHandler.AddItem)
			checklists.DELETE("/:id/items/:itemId", checklistHandler.DeleteItem)
		}

		runs := apiV1.Group("/runs")
		{
			runHandler := handler.NewRunHandler(runService)
			runs.POST("", runHandler.Create)
			runs.GET("", runHandler.List)
			runs.GET("/:id", runHandler.Get)
			runs.POST("/:id/cancel", runHandler.Cancel)
			runs.GET("/:id/progress", runHandler.Progress)
		}
	}

	// 7. HTTP server with graceful shutdown.
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}
	log.Info("server stopped")
}
