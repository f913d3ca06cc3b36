package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"tuitionledger/middleware"
	"tuitionledger/models"
	"tuitionledger/storage"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrArchiveNotFound is returned for unknown archive ids
var ErrArchiveNotFound = errors.New("archive not found")

// LogArchiveService flushes cached activity logs and archives old ones to object storage
type LogArchiveService struct {
	db            *gorm.DB
	redisClient   *redis.Client
	store         storage.ObjectStore
	retentionDays int
	now           func() time.Time
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewLogArchiveService wires the service; redisClient and store may be nil
func NewLogArchiveService(db *gorm.DB, redisClient *redis.Client, store storage.ObjectStore, retentionDays int) *LogArchiveService {
	if retentionDays < 7 {
		retentionDays = 7
	}
	return &LogArchiveService{
		db:            db,
		redisClient:   redisClient,
		store:         store,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// FlushCachedLogsToDatabase moves every queued log from Redis into the
// database. Cached entries expire after 24h, so this must run well within that.
func (las *LogArchiveService) FlushCachedLogsToDatabase(ctx context.Context) (int, error) {
	if las.redisClient == nil {
		return 0, fmt.Errorf("redis client not available")
	}

	cutoff := las.now()
	keys, err := las.redisClient.ZRangeByScore(ctx, middleware.ActivityQueueKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get expired logs: %w", err)
	}

	var processed, failed int
	for _, key := range keys {
		data, err := las.redisClient.Get(ctx, key).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logrus.WithError(err).WithField("key", key).Error("Failed to read cached log")
				failed++
				continue
			}
			// expired before we got to it; drop the dangling queue entry
			las.redisClient.ZRem(ctx, middleware.ActivityQueueKey, key)
			continue
		}

		var activityLog models.ActivityLog
		if err := json.Unmarshal([]byte(data), &activityLog); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to unmarshal cached log")
			failed++
			continue
		}
		activityLog.ID = 0
		if err := las.db.WithContext(ctx).Create(&activityLog).Error; err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to save cached log")
			failed++
			continue
		}

		pipe := las.redisClient.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, middleware.ActivityQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to remove log from cache")
		}
		processed++
	}

	logrus.WithFields(logrus.Fields{"flushed": processed, "errors": failed}).Info("Cached activity logs flushed")
	return processed, nil
}

// ArchiveOldLogs zips activity logs older than the retention window, uploads
// the archive and removes the rows
func (las *LogArchiveService) ArchiveOldLogs(ctx context.Context) (*models.LogArchive, error) {
	if las.store == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	db := las.db.WithContext(ctx)
	cutoff := las.now().AddDate(0, 0, -las.retentionDays)

	var rows []models.ActivityLog
	if err := db.Where("created_at < ?", cutoff).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch logs for archiving: %w", err)
	}
	if len(rows) == 0 {
		logrus.Info("No activity logs to archive")
		return nil, nil
	}

	logs := make([]ArchivedLog, 0, len(rows))
	for _, l := range rows {
		al := ArchivedLog{
			ID:         l.ID,
			UserID:     l.UserID,
			Action:     l.Action,
			Resource:   l.Resource,
			ResourceID: l.ResourceID,
			IPAddress:  l.IPAddress,
			UserAgent:  l.UserAgent,
			CreatedAt:  l.CreatedAt,
		}
		if !l.Details.IsNull() {
			var details map[string]any
			if err := json.Unmarshal(l.Details, &details); err == nil {
				al.Details = details
			}
		}
		logs = append(logs, al)
	}

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := las.createZipArchive(logs, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZIP archive: %w", err)
	}

	key := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	if err := las.store.Put(ctx, key, "application/zip", buf.Bytes()); err != nil {
		return nil, err
	}

	archive := &models.LogArchive{
		FileName:    fileName,
		S3Key:       key,
		StartDate:   logs[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(logs),
		FileSize:    int64(buf.Len()),
		Status:      "completed",
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("created_at < ?", cutoff).Delete(&models.ActivityLog{}).Error; err != nil {
			return err
		}
		return tx.Create(archive).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize archive %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{"key": key, "records": len(logs)}).Info("Activity logs archived")
	return archive, nil
}

// createZipArchive writes the logs as JSON and CSV plus a metadata file
func (las *LogArchiveService) createZipArchive(logs []ArchivedLog, fileName string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	jsonFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    las.now().UTC(),
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, err
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metaFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   las.now().UTC(),
		"record_count": len(logs),
		"date_range": map[string]any{
			"start": logs[0].CreatedAt,
			"end":   logs[len(logs)-1].CreatedAt,
		},
		"schema_version": "1.0",
		"description":    "Tuition ledger activity logs archive",
	}); err != nil {
		return nil, err
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	cw := csv.NewWriter(csvFile)
	_ = cw.Write([]string{"ID", "User ID", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, l := range logs {
		details := ""
		if l.Details != nil {
			if b, err := json.Marshal(l.Details); err == nil {
				details = string(b)
			}
		}
		_ = cw.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.UserID), 10),
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetArchivedLogs lists archives, newest first
func (las *LogArchiveService) GetArchivedLogs(ctx context.Context) ([]models.LogArchive, error) {
	var archives []models.LogArchive
	if err := las.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve archived logs: %w", err)
	}
	return archives, nil
}

// DownloadArchivedLogs opens an archive from object storage
func (las *LogArchiveService) DownloadArchivedLogs(ctx context.Context, archiveID uint) (io.ReadCloser, string, error) {
	var archive models.LogArchive
	if err := las.db.WithContext(ctx).First(&archive, archiveID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrArchiveNotFound
		}
		return nil, "", fmt.Errorf("failed to retrieve archive: %w", err)
	}
	if las.store == nil {
		return nil, "", fmt.Errorf("object storage not configured")
	}
	rc, err := las.store.Get(ctx, archive.S3Key)
	if err != nil {
		return nil, "", err
	}
	return rc, archive.FileName, nil
}

// StartLogMaintenanceScheduler flushes hourly and archives nightly. The caller
// owns the returned scheduler and should Stop it on shutdown.
func (las *LogArchiveService) StartLogMaintenanceScheduler() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if _, err := c.AddFunc("@hourly", func() {
		if las.redisClient == nil {
			return
		}
		if _, err := las.FlushCachedLogsToDatabase(context.Background()); err != nil {
			logrus.WithError(err).Warn("periodic FlushCachedLogsToDatabase failed")
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("30 2 * * *", func() {
		if las.store == nil {
			return
		}
		if _, err := las.ArchiveOldLogs(context.Background()); err != nil {
			logrus.WithError(err).Warn("nightly ArchiveOldLogs failed")
		}
	}); err != nil {
		return nil, err
	}

	c.Start()
	logrus.WithField("retention_days", las.retentionDays).Info("Log maintenance scheduler started")
	return c, nil
}
