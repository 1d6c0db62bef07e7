package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// CatalogWarmer pre-populates the violation/sanction caches.
type CatalogWarmer interface {
	WarmCache(ctx context.Context) error
}

// CatalogWarmupJob refreshes the catalog cache after deploys or flushes so
// that eligibility checks do not pay the cold-read penalty.
type CatalogWarmupJob struct {
	Catalog CatalogWarmer
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewCatalogWarmupJob wires dependencies for the warmup handler.
func NewCatalogWarmupJob(catalog CatalogWarmer, logger *slog.Logger, metrics *Metrics) *CatalogWarmupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogWarmupJob{Catalog: catalog, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCatalogWarmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	tracker := j.metrics().Track(TaskCatalogWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Catalog.WarmCache(ctx); err != nil {
		resultErr = err
		return err
	}
	j.Logger.Info("catalog cache warmed")
	return nil
}

func (j *CatalogWarmupJob) metrics() *Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return NewMetrics(nil)
}
