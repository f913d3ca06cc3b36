package services

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"tuitionledger/models"
	"tuitionledger/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newArchiveTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "logs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.ActivityLog{}, &models.LogArchive{}))
	return db
}

func TestArchiveOldLogs(t *testing.T) {
	db := newArchiveTestDB(t)
	store := storage.NewMemoryStore()
	now := time.Date(2025, time.April, 20, 3, 0, 0, 0, time.UTC)

	old := now.AddDate(0, 0, -45)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.ActivityLog{
			BaseModel: models.BaseModel{CreatedAt: old.Add(time.Duration(i) * time.Hour)},
			UserID:    1,
			Action:    "POST",
			Resource:  "payments",
			Details:   models.JSON(`{"amount":"1500.00"}`),
		}).Error)
	}
	require.NoError(t, db.Create(&models.ActivityLog{
		BaseModel: models.BaseModel{CreatedAt: now.Add(-time.Hour)},
		Action:    "GET",
		Resource:  "invoices",
	}).Error)

	las := NewLogArchiveService(db, nil, store, 30)
	las.now = func() time.Time { return now }

	archive, err := las.ArchiveOldLogs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, archive)
	assert.Equal(t, 3, archive.RecordCount)
	assert.Equal(t, "completed", archive.Status)
	assert.Equal(t, []string{archive.S3Key}, store.Keys("logs/archived/"))

	var remaining int64
	require.NoError(t, db.Model(&models.ActivityLog{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	rc, name, err := las.DownloadArchivedLogs(context.Background(), archive.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, archive.FileName, name)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var files []string
	for _, f := range zr.File {
		files = append(files, f.Name)
	}
	assert.ElementsMatch(t, []string{"activity_logs.json", "metadata.json", "activity_logs.csv"}, files)

	// second run has nothing left to archive
	again, err := las.ArchiveOldLogs(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)

	list, err := las.GetArchivedLogs(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLogArchiveWithoutBackends(t *testing.T) {
	db := newArchiveTestDB(t)
	las := NewLogArchiveService(db, nil, nil, 3)
	assert.Equal(t, 7, las.retentionDays)

	_, err := las.FlushCachedLogsToDatabase(context.Background())
	assert.Error(t, err)

	_, err = las.ArchiveOldLogs(context.Background())
	assert.Error(t, err)

	_, _, err = las.DownloadArchivedLogs(context.Background(), 42)
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}
