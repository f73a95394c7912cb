package handlers

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/mediascribe/internal/logging"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
	"github.com/codebuildervaibhav/mediascribe/internal/transcription"
)

// StatsReader reads persisted daily statistics.
type StatsReader interface {
	Stats(ctx context.Context, from, to string) ([]task.DailyStats, error)
	Ping(ctx context.Context) error
}

// SystemHandler serves status, models, statistics, logs and health.
type SystemHandler struct {
	engine  Engine
	stats   StatsReader
	logs    *logging.LogBuffer
	version string
	// defaultModel is reported by Models; empty means the catalog default.
	defaultModel string
	startedAt    time.Time
	now          func() time.Time
}

// NewSystemHandler creates a system handler. logs may be nil.
func NewSystemHandler(engine Engine, stats StatsReader, logs *logging.LogBuffer, version string) *SystemHandler {
	return &SystemHandler{
		engine:    engine,
		stats:     stats,
		logs:      logs,
		version:   version,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Status handles GET /api/system/status.
func (h *SystemHandler) Status(c *fiber.Ctx) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	active := h.engine.Active()
	if active == nil {
		active = []string{}
	}
	return c.JSON(fiber.Map{
		"workers":        h.engine.Workers(),
		"active_tasks":   active,
		"active_count":   len(active),
		"queue_depth":    h.engine.QueueDepth(),
		"accepting":      h.engine.Accepting(),
		"dropped_events": h.engine.DroppedEvents(),
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / (1024 * 1024),
		"version":        h.version,
	})
}

// Models handles GET /api/system/models.
func (h *SystemHandler) Models(c *fiber.Ctx) error {
	def := transcription.DefaultModel
	if m, ok := transcription.LookupModel(h.defaultModel); ok {
		def = m.Name
	}
	return c.JSON(fiber.Map{
		"models":  transcription.Models(),
		"default": def,
	})
}

// Stats handles GET /api/system/stats?period=day|week|month or
// ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *SystemHandler) Stats(c *fiber.Ctx) error {
	from, to, err := statsRange(h.now(), c.Query("period", "week"), c.Query("from"), c.Query("to"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), CodeBadRequest)
	}
	rows, err := h.stats.Stats(c.UserContext(), from, to)
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error(), CodeStore)
	}
	if rows == nil {
		rows = []task.DailyStats{}
	}
	return c.JSON(fiber.Map{
		"summary": task.SummarizeStats(from, to, rows),
		"daily":   rows,
	})
}

func statsRange(now time.Time, period, from, to string) (string, string, error) {
	if from != "" || to != "" {
		if from == "" || to == "" {
			return "", "", errors.New("from and to must be given together")
		}
		for _, day := range []string{from, to} {
			if _, err := time.Parse("2006-01-02", day); err != nil {
				return "", "", errors.New("dates must be YYYY-MM-DD")
			}
		}
		return from, to, nil
	}
	today := now.UTC()
	switch period {
	case "day":
		return task.DayKey(today), task.DayKey(today), nil
	case "week":
		return task.DayKey(today.AddDate(0, 0, -6)), task.DayKey(today), nil
	case "month":
		return task.DayKey(today.AddDate(0, 0, -29)), task.DayKey(today), nil
	default:
		return "", "", errors.New("period must be day, week or month")
	}
}

// Logs handles GET /api/logs?limit=N.
func (h *SystemHandler) Logs(c *fiber.Ctx) error {
	var lines []string
	if h.logs != nil {
		lines = h.logs.GetLogs(c.QueryInt("limit", 0))
	}
	if lines == nil {
		lines = []string{}
	}
	return c.JSON(fiber.Map{"logs": lines})
}

// Health handles GET /health.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	status, code := "healthy", fiber.StatusOK
	database := "ok"
	if err := h.stats.Ping(c.UserContext()); err != nil {
		status, code = "degraded", fiber.StatusServiceUnavailable
		database = err.Error()
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"version":  h.version,
		"database": database,
	})
}
