package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/history"
	"github.com/tcgscout/tcgscout/internal/scraper"
	"github.com/tcgscout/tcgscout/internal/server"
)

// errNoCredentials is returned before a browser is started when no account is configured.
var errNoCredentials = errors.New("marketplace credentials are not configured: set SNKRDUNK_EMAIL and SNKRDUNK_PASSWORD")

// Seams replaced in tests.
var (
	launchSearcher = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (server.Searcher, error) {
		sc, err := scraper.New(ctx, cfg, cfg.Credentials, scraper.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
	openHistory = history.Open
)
