package main

import (
	"log"

	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/container"
	"github.com/brightpath/compliance-core/internal/logging"
)

func main() {
	cfg := config.Load()

	if err := logging.Init(&cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	c, err := container.New(*cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Cleanup()

	log.Println("Starting queue worker...")
	if err := c.Worker.Start(); err != nil {
		log.Fatalf("Worker failed to start: %v", err)
	}

	select {}
}
