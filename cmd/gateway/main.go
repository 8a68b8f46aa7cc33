package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/katipally/Jarvis-sub002/internal/config"
	"github.com/katipally/Jarvis-sub002/internal/gateway"
	"github.com/katipally/Jarvis-sub002/internal/llm"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var gen llm.Generator
	switch cfg.LLMProvider {
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			log.Fatalf("ollama client: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.HealthCheck(ctx); err != nil {
			log.Printf("warning: %v", err)
		}
		cancel()
		gen = client
	default:
		gen = llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID)
	}

	e := gateway.New(gen)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("gateway listening on %s (llm=%s)", cfg.HTTPAddress, cfg.LLMProvider)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
