// Command mcp serves the finance tool catalog over MCP stdio for one
// restaurant.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/frepi-finance/internal/adapters/mcp"
	"github.com/kirillkom/frepi-finance/internal/bootstrap"
	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/observability/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	restaurantID := flag.Int64("restaurant", 0, "restaurant id (defaults to MCP_RESTAURANT_ID)")
	flag.Parse()

	// stdout carries the protocol.
	log.SetOutput(os.Stderr)

	cfg := config.Load()
	cfg.TelegramMode = config.TelegramModeOff
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *restaurantID > 0 {
		cfg.MCPRestaurantID = *restaurantID
	}
	if cfg.MCPRestaurantID <= 0 {
		log.Fatalf("MCP_RESTAURANT_ID or -restaurant is required")
	}
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	cancel()
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	session := domain.NewSession(0, "mcp", time.Now())
	session.ApplyIdentification(domain.Identification{
		Known:              true,
		OnboardingComplete: true,
		RestaurantID:       cfg.MCPRestaurantID,
	})

	s := mcpadapter.NewServer(mcpadapter.NewToolBridge(app.Tools, session), Version)
	log.Printf("mcp serving %d tools for restaurant %d", len(app.Tools.Definitions()), cfg.MCPRestaurantID)
	if err := server.ServeStdio(s); err != nil {
		log.Printf("mcp server error: %v", err)
	}
}
