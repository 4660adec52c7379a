package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveCounter reports how many attempt sessions this instance holds.
type LiveCounter interface {
	Live() int
}

// SystemHandler reports instance health.
type SystemHandler struct {
	rdb        *redis.Client
	db         Pinger
	sessions   LiveCounter
	instanceID string
	startTime  time.Time
	log        zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. db may be nil when the
// journal is disabled.
func NewSystemHandler(rdb *redis.Client, db Pinger, sessions LiveCounter, instanceID string, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:        rdb,
		db:         db,
		sessions:   sessions,
		instanceID: instanceID,
		startTime:  time.Now(),
		log:        log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string            `json:"status"`
	InstanceID   string            `json:"instance_id"`
	Uptime       string            `json:"uptime"`
	LiveSessions int               `json:"live_sessions"`
	JournalQueue int64             `json:"journal_queue"`
	Goroutines   int               `json:"goroutines"`
	HeapAlloc    uint64            `json:"heap_alloc"`
	Checks       map[string]string `json:"checks"`
}

// Health godoc
// GET /health
// Probes Redis and PostgreSQL. Answers 503 when either is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := healthReport{
		Status:       "ok",
		InstanceID:   h.instanceID,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		LiveSessions: h.sessions.Live(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		Checks:       map[string]string{},
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		report.Checks["redis"] = err.Error()
		report.Status = "degraded"
	} else {
		report.Checks["redis"] = "ok"
		report.JournalQueue, _ = h.rdb.LLen(ctx, config.WorkerKey.PersistAttemptEventsQueue).Result()
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
			report.Checks["postgres"] = err.Error()
			report.Status = "degraded"
		} else {
			report.Checks["postgres"] = "ok"
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
