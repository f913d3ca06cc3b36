package services

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"tuitionledger/config"
	"tuitionledger/database"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	defaultServiceName = "Tuition Ledger API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// HealthService probes the database and cache for the /health endpoint.
type HealthService struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration

	db    func() *gorm.DB
	redis func() *redis.Client
}

// HealthReport represents the JSON response for health endpoints.
type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	UptimeHuman   string             `json:"uptime_human"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Flags         HealthFlags        `json:"flags"`
	GoVersion     string             `json:"go_version"`
	Goroutines    int                `json:"goroutines"`
}

// DependencyStatus captures the health of a single external dependency.
type DependencyStatus struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthFlags exposes settings that change runtime behaviour.
type HealthFlags struct {
	SkipMigrate       bool   `json:"skip_migrate"`
	ArchiveStatements bool   `json:"archive_statements"`
	Currency          string `json:"currency"`
}

// NewHealthService probes the globals held by the database package.
func NewHealthService(serviceName, version string) *HealthService {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = defaultServiceName
	}
	if strings.TrimSpace(version) == "" {
		version = defaultVersion
	}

	return &HealthService{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     defaultTimeout,
		db:          database.GetDB,
		redis:       database.GetRedisClient,
	}
}

// GetHealthReport collects the current health information.
func (s *HealthService) GetHealthReport(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uptime := time.Since(s.startTime)
	report := HealthReport{
		Status:        overallStatusOK,
		Service:       s.serviceName,
		Version:       s.version,
		Environment:   currentEnvironment(),
		Time:          time.Now().UTC(),
		UptimeSeconds: uptime.Seconds(),
		UptimeHuman:   humanizeDuration(uptime),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
	}

	dbDep, dbStatus := s.checkDatabase(ctx)
	redisDep, redisStatus := s.checkRedis(ctx)
	report.Dependencies = []DependencyStatus{dbDep, redisDep}
	report.Status = combineStatus(combineStatus(report.Status, dbStatus), redisStatus)

	if config.AppConfig != nil {
		report.Flags = HealthFlags{
			SkipMigrate:       config.AppConfig.SkipMigrate,
			ArchiveStatements: config.AppConfig.ArchiveStatements,
			Currency:          config.AppConfig.Currency,
		}
	}
	return report
}

// HTTPStatusForOverall maps a health status to an HTTP status code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *HealthService) checkDatabase(ctx context.Context) (DependencyStatus, string) {
	dep := DependencyStatus{Name: "mysql", Status: dependencyStatusDown}

	db := s.db()
	if db == nil {
		dep.Error = "database connection not initialised"
		return dep, overallStatusCritical
	}
	sqlDB, err := db.DB()
	if err != nil {
		dep.Error = fmt.Sprintf("sql DB handle error: %v", err)
		return dep, overallStatusCritical
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Error = err.Error()
		return dep, overallStatusCritical
	}

	stats := sqlDB.Stats()
	dep.Status = dependencyStatusUp
	dep.Details = map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
	}
	return dep, overallStatusOK
}

// Redis only caches activity logs, so losing it degrades rather than fails.
func (s *HealthService) checkRedis(ctx context.Context) (DependencyStatus, string) {
	dep := DependencyStatus{Name: "redis"}

	client := s.redis()
	if client == nil {
		dep.Status = dependencyStatusDisabled
		return dep, overallStatusOK
	}

	start := time.Now()
	err := client.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep, overallStatusDegraded
	}

	dep.Status = dependencyStatusUp
	dep.Details = map[string]interface{}{"address": client.Options().Addr}
	return dep, overallStatusOK
}

func currentEnvironment() string {
	if config.AppConfig == nil || strings.TrimSpace(config.AppConfig.AppEnv) == "" {
		return "unknown"
	}
	return config.AppConfig.AppEnv
}

func combineStatus(current, candidate string) string {
	order := map[string]int{
		overallStatusOK:       0,
		overallStatusDegraded: 1,
		overallStatusCritical: 2,
	}
	if order[candidate] > order[current] {
		return candidate
	}
	return current
}

func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d %= 24 * time.Hour
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
