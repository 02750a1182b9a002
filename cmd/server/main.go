package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cachemir/shardis/internal/server"
	"github.com/cachemir/shardis/pkg/config"
)

func main() {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting shardis server on %s (auth required: %t)", cfg.Address(), cfg.Password != "")

	srv := server.New(cfg)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	log.Println("Server stopped")
}
