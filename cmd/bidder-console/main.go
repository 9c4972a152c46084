package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"auction-live/internal/config"
	"auction-live/internal/domain"
	"auction-live/internal/infrastructure/rest"
	"auction-live/internal/services"
	"auction-live/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bidder-console <auction-id> [site-id]")
		os.Exit(2)
	}
	auctionID := os.Args[1]

	gateway := rest.NewGateway(cfg.Server.RestBaseURL, cfg.Session.Token, log.Named("rest"))
	defer gateway.Close()

	terminal := make(chan error, 1)
	opts := services.OptionsFromConfig(cfg)
	opts.OnTerminal = func(err error) { terminal <- err }
	opts.OnOutbid = func(auctionID, lotID string) {
		fmt.Printf("!! you were outbid on lot %s\n", lotID)
	}
	opts.OnAdminMessage = func(auctionID, message string) {
		fmt.Printf(">> auctioneer: %s\n", message)
	}

	client := services.NewClient(opts, gateway, log)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		log.Error("Failed to connect", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 2 {
		client.JoinSite(os.Args[2])
	}
	joinCtx, cancelJoin := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.JoinAuction(joinCtx, auctionID)
	cancelJoin()
	if err != nil {
		log.Error("Failed to join auction", "error", err)
		os.Exit(1)
	}

	fmt.Println("commands: bid <lot-id> <amount> | quick <lot-id> | status | quit")
	go readCommands(client, auctionID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-terminal:
		log.Error("Session lost", "error", err)
		os.Exit(1)
	}

	client.LeaveAuction(auctionID)
	log.Info("Console stopped")
}

func readCommands(client *services.Client, auctionID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "bid":
			if len(fields) != 3 {
				fmt.Println("usage: bid <lot-id> <amount>")
				continue
			}
			amount, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				fmt.Println("invalid amount")
				continue
			}
			placeBid(client, auctionID, fields[1], amount)
		case "quick":
			if len(fields) != 2 {
				fmt.Println("usage: quick <lot-id>")
				continue
			}
			if err := client.Bids().QuickBid(context.Background(), auctionID, fields[1]); err != nil {
				fmt.Printf("quick bid failed: %v\n", err)
			}
		case "status":
			printStatus(client, auctionID)
		case "quit":
			os.Exit(0)
		default:
			fmt.Println("unknown command")
		}
	}
}

func placeBid(client *services.Client, auctionID, lotID string, amount float64) {
	record, err := client.Bids().PlaceBid(context.Background(), auctionID, lotID, amount)
	switch {
	case err == nil:
		fmt.Printf("confirmed: %.2f on lot %s (bidder #%d)\n",
			record.Amount, record.LotID, record.BidderNumber)
	case errors.Is(err, domain.ErrBidTooLow):
		fmt.Printf("too low: %v\n", err)
	case errors.Is(err, domain.ErrBidTimeout):
		fmt.Println("no confirmation in time; bid may or may not stand")
	default:
		fmt.Printf("bid failed: %v\n", err)
	}
}

func printStatus(client *services.Client, auctionID string) {
	snap, ok := client.State().Snapshot(auctionID)
	if !ok {
		fmt.Println("no snapshot")
		return
	}
	lot, _ := snap.CurrentLot()
	fmt.Printf("auction %s: %s, lot %s", snap.AuctionID, snap.Status, lot.ID)
	if snap.HighBid != nil {
		fmt.Printf(", high %.2f by #%d", snap.HighBid.Amount, snap.HighBid.BidderNumber)
	}
	fmt.Printf(", %d bidders, %s remaining\n",
		snap.Bidders, client.State().Remaining(auctionID).Round(time.Second))
}
