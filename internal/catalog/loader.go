// Package catalog loads the ordered coreg campaign list from the CMS.
package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/models"
)

// Loader produces the canonical, ordered campaign sequence.
type Loader struct {
	fetcher   Fetcher
	assetsURL string
	logger    *zap.Logger
}

// NewLoader creates a Loader reading from fetcher.
func NewLoader(fetcher Fetcher, assetsURL string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, assetsURL: assetsURL, logger: logger.Named("catalog")}
}

// Load fetches, normalizes and arranges the catalog. Any fetch failure
// yields an empty sequence, which the flow treats as immediately completed.
func (l *Loader) Load(ctx context.Context) []models.Campaign {
	records, err := l.fetcher.Fetch(ctx)
	if err != nil {
		l.logger.Error("catalog unavailable, continuing with empty catalog", zap.Error(err))
		return []models.Campaign{}
	}
	campaigns := Arrange(Decode(records, l.assetsURL, l.logger))
	l.logger.Debug("catalog loaded", zap.Int("campaigns", len(campaigns)))
	return campaigns
}
