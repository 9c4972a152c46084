package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-live/internal/config"
	"auction-live/internal/domain"
	"auction-live/internal/simulator"
	"auction-live/pkg/logger"
)

func main() {
	log := logger.New()
	log.Info("Starting auction simulator")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	sim := simulator.New(simulator.Options{}, log)

	// A demo auction so a console can connect right away.
	sim.AddAuction(domain.Auction{
		ID:     "demo",
		SiteID: "main",
		Title:  "Demo auction",
		Status: domain.AuctionLive,
		Lots: []domain.Lot{
			{ID: "lot-1", Title: "First lot", StartingBid: 100},
			{ID: "lot-2", Title: "Second lot", StartingBid: 250},
		},
		EndTime: time.Now().Add(2 * time.Hour),
	})

	if err := sim.StartJobs(); err != nil {
		log.Error("Failed to start background jobs", "error", err)
		os.Exit(1)
	}

	address := fmt.Sprintf("0.0.0.0:%d", cfg.Simulator.Port)
	go func() {
		if err := sim.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("Simulator listening", "address", address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down simulator...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sim.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Simulator stopped")
}
