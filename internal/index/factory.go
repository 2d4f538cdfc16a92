package index

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/contextfs/internal/config"
	"github.com/fyrsmithlabs/contextfs/internal/embeddings"
	"go.uber.org/zap"
)

// Provider names accepted by Open.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Open builds the backend selected by cfg.Provider.
func Open(ctx context.Context, cfg config.IndexConfig, embedder embeddings.Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case ProviderChromem, "":
		path, err := config.ExpandHome(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding index path: %w", err)
		}
		return NewChromemStore(ChromemConfig{
			Path:       path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Chromem.Collection,
			PageProbe:  cfg.PageProbe,
		}, embedder, logger)

	case ProviderQdrant:
		return NewQdrantStore(ctx, QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			Collection:   cfg.Qdrant.Collection,
			UseTLS:       cfg.Qdrant.UseTLS,
			APIKey:       cfg.Qdrant.APIKey.Value(),
			VectorSize:   cfg.VectorSize,
			PageProbe:    cfg.PageProbe,
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: cfg.Qdrant.Backoff.Duration(),
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
