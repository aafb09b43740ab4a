package usecase

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	domainHealth "github.com/wafleet/wafleet/domains/health"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	"github.com/wafleet/wafleet/pkg/msgworker"
)

// PoolStatsProvider is the slice of the supervisor the health check needs.
type PoolStatsProvider interface {
	PoolStats() msgworker.PoolStats
	WorkerCount() int
}

type healthService struct {
	db        *gorm.DB
	bots      domainInstance.IInstanceRepository
	stats     PoolStatsProvider
	tenancy   string
	startedAt time.Time
}

func NewHealthUsecase(db *gorm.DB, bots domainInstance.IInstanceRepository, stats PoolStatsProvider, tenancy string) domainHealth.IHealthUsecase {
	return &healthService{
		db:        db,
		bots:      bots,
		stats:     stats,
		tenancy:   tenancy,
		startedAt: time.Now(),
	}
}

func (s *healthService) Check(ctx context.Context) (domainHealth.Status, error) {
	status := domainHealth.Status{
		ServerName: s.tenancy,
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		status.Database = sqlDB.PingContext(ctx) == nil
	}

	bots, err := s.bots.List(ctx)
	if err == nil {
		status.BotCount = len(bots)
		for _, b := range bots {
			if b.Status == domainInstance.StatusOnline {
				status.OnlineBots++
			}
		}
	}

	if s.stats != nil {
		pool := s.stats.PoolStats()
		status.WorkerStats = map[string]string{
			"live_workers":   fmt.Sprintf("%d", s.stats.WorkerCount()),
			"pool_workers":   fmt.Sprintf("%d", pool.NumWorkers),
			"pool_active":    fmt.Sprintf("%d", pool.ActiveWorkers),
			"pool_processed": fmt.Sprintf("%d", pool.TotalProcessed),
			"pool_dropped":   fmt.Sprintf("%d", pool.TotalDropped),
			"pool_errors":    fmt.Sprintf("%d", pool.TotalErrors),
		}
	}

	status.Healthy = status.Database
	return status, nil
}
