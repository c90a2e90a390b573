package jobs

import (
	"log/slog"
	"time"

	"popkit/internal/config"
	"popkit/internal/database"
	"popkit/internal/events"
)

// CleanupJob handles cleanup of old analytics events
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes analytics events older than the retention period.
// This helps with GDPR data minimization and reduces storage usage.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.EventsRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old analytics events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	deleted, err := events.DeleteEventsOlderThan(db, cutoffDate, 1000)
	if err != nil {
		j.logger.Error("Failed to delete old analytics events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old analytics events to clean up")
		return nil
	}

	j.logger.Info("Cleaned up old analytics events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", retentionDays))

	return nil
}
