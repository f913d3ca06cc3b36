package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"tuitionledger/database"
	"tuitionledger/models"
	"tuitionledger/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LogController exposes the activity audit trail and its archives
type LogController struct {
	archive *services.LogArchiveService
}

func NewLogController(archive *services.LogArchiveService) *LogController {
	return &LogController{archive: archive}
}

// GetLogs retrieves paginated activity logs with filters
// Query params: user_id, action, resource, resource_id, start_date, end_date, page, limit
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	query := database.DB.Model(&models.ActivityLog{})
	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if resource := c.Query("resource"); resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if resourceID := c.Query("resource_id"); resourceID != "" {
		query = query.Where("resource_id = ?", resourceID)
	}
	if startDate := c.Query("start_date"); startDate != "" {
		if parsed, err := time.Parse("2006-01-02", startDate); err == nil {
			query = query.Where("created_at >= ?", parsed)
		}
	}
	if endDate := c.Query("end_date"); endDate != "" {
		if parsed, err := time.Parse("2006-01-02", endDate); err == nil {
			query = query.Where("created_at < ?", parsed.Add(24*time.Hour))
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logrus.WithError(err).Error("Failed to count logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve logs count",
		})
	}

	var rows []models.ActivityLog
	if err := query.Order("created_at DESC, id DESC").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		logrus.WithError(err).Error("Failed to retrieve logs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve logs",
		})
	}

	logs := make([]services.ArchivedLog, len(rows))
	for i, l := range rows {
		logs[i] = services.ArchivedLog{
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
			_ = json.Unmarshal(l.Details, &logs[i].Details)
		}
	}

	return c.JSON(fiber.Map{
		"logs":        logs,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

// GetArchives lists archived log bundles
func (lc *LogController) GetArchives(c *fiber.Ctx) error {
	archives, err := lc.archive.GetArchivedLogs(c.UserContext())
	if err != nil {
		logrus.WithError(err).Error("Failed to list log archives")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve archives",
		})
	}
	return c.JSON(fiber.Map{"archives": archives})
}

// DownloadArchive streams one archive zip
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return invalidID(c, "archive")
	}

	rc, name, err := lc.archive.DownloadArchivedLogs(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, services.ErrArchiveNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		logrus.WithError(err).WithField("archive_id", id).Error("Failed to download log archive")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to download archive"})
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read archive"})
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(data)
}

// ArchiveNow runs the retention archive immediately (owner/admin)
func (lc *LogController) ArchiveNow(c *fiber.Ctx) error {
	archive, err := lc.archive.ArchiveOldLogs(c.UserContext())
	if err != nil {
		logrus.WithError(err).Error("Manual log archive failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if archive == nil {
		return c.JSON(fiber.Map{"message": "No logs old enough to archive"})
	}
	return c.JSON(fiber.Map{"message": "Logs archived", "archive": archive})
}

// FlushCachedLogs moves Redis-cached logs into the database (owner/admin)
func (lc *LogController) FlushCachedLogs(c *fiber.Ctx) error {
	n, err := lc.archive.FlushCachedLogsToDatabase(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message":         "Cached logs flushing completed",
		"processed_count": n,
	})
}
