package middleware

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tuitionledger/database"
	"tuitionledger/models"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ActivityQueueKey is the Redis sorted set holding cached activity log keys
const ActivityQueueKey = "logs:queue"

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logrus.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// LogActivity records who changed what. The entry goes to Redis first and
// falls back to a direct insert when Redis is unavailable.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	now := time.Now()
	activityLog := models.ActivityLog{
		UserID:     CurrentUserID(c),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}
	activityLog.CreatedAt = now

	meta := map[string]interface{}{
		"details":        details,
		"integrity_hash": integrityHash(activityLog),
		"request_id":     c.Get("X-Request-ID", requestID(now)),
		"method":         c.Method(),
		"path":           c.Path(),
		"query":          string(c.Request().URI().QueryString()),
		"status_code":    c.Response().StatusCode(),
	}
	if b, err := json.Marshal(meta); err == nil {
		activityLog.Details = b
	}

	go func(al models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()

		if err := cacheActivityLog(al); err != nil {
			logrus.WithError(err).Debug("Activity log not cached, saving directly to database")
			if database.DB == nil {
				logrus.Error("database.DB is nil; cannot save activity log to database")
				return
			}
			if dbErr := database.DB.Create(&al).Error; dbErr != nil {
				logrus.WithError(dbErr).Error("Failed to save activity log to database")
			}
		}
	}(activityLog)
}

// integrityHash lets an auditor detect edits to an archived entry
func integrityHash(log models.ActivityLog) string {
	data := fmt.Sprintf("%d:%s:%s:%d:%s:%s:%s",
		log.UserID,
		log.Action,
		log.Resource,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		log.CreatedAt.Format(time.RFC3339),
	)
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}

func requestID(t time.Time) string {
	return fmt.Sprintf("req_%d", t.UnixNano())
}

// cacheActivityLog stores an activity log in Redis with a 24-hour TTL
func cacheActivityLog(log models.ActivityLog) (err error) {
	redisClient := database.GetRedisClient()
	if redisClient == nil {
		return fmt.Errorf("redis client is nil")
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("panic recovered in cacheActivityLog")
			err = fmt.Errorf("redis panic: %v", r)
		}
	}()

	logData, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}

	ctx := context.Background()
	cacheKey := fmt.Sprintf("log:%d:%s:%d", log.UserID, log.Action, time.Now().UnixNano())
	if err := redisClient.Set(ctx, cacheKey, logData, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to cache log: %w", err)
	}

	if err := redisClient.ZAdd(ctx, ActivityQueueKey, &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: cacheKey,
	}).Err(); err != nil {
		logrus.WithError(err).Error("Failed to add log to processing queue")
	}

	return nil
}

// LogActivityMiddleware records every successful mutating API call
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}

		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}

		// /api/<resource>/...
		var resource string
		if parts := strings.Split(strings.Trim(c.Path(), "/"), "/"); len(parts) >= 2 {
			resource = parts[1]
		}

		var resourceID uint
		if id, parseErr := strconv.ParseUint(c.Params("id"), 10, 64); parseErr == nil {
			resourceID = uint(id)
		}

		if err == nil && c.Response().StatusCode() < 400 {
			LogActivity(c, action, resource, resourceID, nil)
		}

		return err
	}
}
