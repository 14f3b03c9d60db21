package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkalinina/stashkeep/internal/app"
	"github.com/mkalinina/stashkeep/internal/config"
	"github.com/mkalinina/stashkeep/internal/identity"
	"github.com/mkalinina/stashkeep/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg := config.Load()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var provider identity.Provider
	if cfg.AccountToken != "" {
		provider = identity.TokenProvider{Token: cfg.AccountToken, Secret: []byte(cfg.TokenSecret)}
	} else {
		provider = identity.Static{ID: identity.Identity{OwnerID: cfg.OwnerID, Tier: identity.TierFree}}
	}

	workspace, err := app.Open(ctx, cfg, provider, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	counts, err := workspace.Uploads.Counts(ctx)
	if err == nil && len(counts) > 0 {
		fmt.Fprintf(os.Stderr, "upload queue at shutdown: %v\n", counts)
	}

	if err := workspace.Close(); err != nil {
		log.Printf("%v", err)
	}
}
