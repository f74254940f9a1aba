package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	portal, err := NewPortal(context.Background())
	if err != nil {
		log.Fatalf("Failed to start portal: %v", err)
	}
	portal.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := portal.App.Listen(addr); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	portal.Shutdown(15 * time.Second)
}
