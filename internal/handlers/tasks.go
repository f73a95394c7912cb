package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/fetch"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
	"github.com/codebuildervaibhav/mediascribe/internal/transcription"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TaskHandler serves task submission, lookup, cancellation and deletion.
type TaskHandler struct {
	engine    Engine
	maxActive int
	uploadDir string
	// defaultModel replaces an empty model_name.
	defaultModel string
	logger       *zap.Logger
}

// NewTaskHandler creates a task handler. maxActive of zero disables
// admission control. Local sources are only accepted below uploadDir.
func NewTaskHandler(engine Engine, maxActive int, uploadDir string, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{engine: engine, maxActive: maxActive, uploadDir: uploadDir, logger: logger}
}

// CreateRequest is the body of POST /api/tasks.
type CreateRequest struct {
	URL       string         `json:"url"`
	ModelName string         `json:"model_name"`
	Options   map[string]any `json:"options"`
}

// Create handles POST /api/tasks.
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", CodeBadRequest)
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required", CodeInvalidURL)
	}
	kind, err := fetch.Classify(req.URL)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), CodeInvalidURL)
	}
	if kind == fetch.SourceLocal && !h.isUpload(req.URL) {
		return errorJSON(c, fiber.StatusBadRequest, "Local files must be sent to /api/upload", CodeInvalidURL)
	}

	rec, err := h.newRecord(req.URL, req.ModelName, stringOptions(req.Options))
	if err != nil {
		return respondError(c, err)
	}
	return h.submit(c, rec)
}

// newRecord validates the model and options and builds a pending record.
func (h *TaskHandler) newRecord(sourceRef, modelName string, opts task.Options) (*task.Record, error) {
	if strings.TrimSpace(modelName) == "" {
		modelName = h.defaultModel
	}
	model, ok := transcription.LookupModel(modelName)
	if !ok {
		return nil, badRequest(CodeInvalidModel, "Unknown model %q (available: %s)",
			modelName, strings.Join(transcription.ModelNames(), ", "))
	}
	if err := opts.Validate(); err != nil {
		return nil, badRequest(CodeBadRequest, "%s", err.Error())
	}
	return task.New(sourceRef, model.Name, opts), nil
}

// submit applies admission control and hands rec to the engine.
func (h *TaskHandler) submit(c *fiber.Ctx, rec *task.Record) error {
	if !h.engine.Accepting() {
		return errorJSON(c, fiber.StatusServiceUnavailable, "Server is shutting down", CodeShutdown)
	}
	if h.maxActive > 0 {
		if busy := len(h.engine.Active()) + h.engine.QueueDepth(); busy >= h.maxActive {
			return errorJSON(c, fiber.StatusServiceUnavailable,
				fmt.Sprintf("Too many active tasks (%d), try again later", busy), CodeOverloaded)
		}
	}
	if err := h.engine.SubmitRecord(c.UserContext(), rec); err != nil {
		h.logger.Warn("submit failed", zap.String("source", rec.SourceRef), zap.Error(err))
		return engineError(c, err)
	}
	return c.JSON(rec)
}

func (h *TaskHandler) isUpload(sourceRef string) bool {
	path, err := fetch.LocalPath(sourceRef)
	return err == nil && fetch.IsUnder(h.uploadDir, path)
}

// TaskPage is the body of GET /api/tasks.
type TaskPage struct {
	Tasks   []*task.Record `json:"tasks"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"has_more"`
}

// List handles GET /api/tasks?status=&search=&date_from=&date_to=&page=&limit=.
func (h *TaskHandler) List(c *fiber.Ctx) error {
	filter, page, err := parseFilter(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error(), CodeBadRequest)
	}
	limit := filter.Limit
	// One extra row tells whether another page exists.
	filter.Limit++
	recs, err := h.engine.List(c.UserContext(), filter)
	if err != nil {
		return engineError(c, err)
	}
	resp := TaskPage{Tasks: recs, Page: page, Limit: limit}
	if len(recs) > limit {
		resp.Tasks = recs[:limit]
		resp.HasMore = true
	}
	if resp.Tasks == nil {
		resp.Tasks = []*task.Record{}
	}
	return c.JSON(resp)
}

func parseFilter(c *fiber.Ctx) (task.Filter, int, error) {
	var filter task.Filter
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := task.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return filter, 0, err
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	filter.Search = strings.TrimSpace(c.Query("search"))

	if raw := c.Query("date_from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, 0, fmt.Errorf("date_from must be YYYY-MM-DD")
		}
		filter.Since = from
	}
	if raw := c.Query("date_to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, 0, fmt.Errorf("date_to must be YYYY-MM-DD")
		}
		// Inclusive end day.
		filter.Until = to.AddDate(0, 0, 1)
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	return filter, page, nil
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	rec, err := h.engine.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(rec)
}

// Cancel handles POST /api/tasks/:id/cancel.
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := h.engine.GetStatus(c.UserContext(), id)
	if err != nil {
		return engineError(c, err)
	}
	if rec.Status.IsTerminal() {
		return errorJSON(c, fiber.StatusConflict,
			fmt.Sprintf("Task already %s", rec.Status), CodeTaskFinished)
	}
	if err := h.engine.Cancel(c.UserContext(), id); err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{
		"task_id": id,
		"status":  "cancelling",
		"message": "Cancellation requested",
	})
}

// Delete handles DELETE /api/tasks/:id.
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.engine.Delete(c.UserContext(), id); err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{"task_id": id, "deleted": true})
}

// Result handles GET /api/files/:id/result.
func (h *TaskHandler) Result(c *fiber.Ctx) error {
	return h.download(c, func(rec *task.Record) string { return rec.ResultArtifactRef }, "Result")
}

// Media handles GET /api/files/:id/media.
func (h *TaskHandler) Media(c *fiber.Ctx) error {
	return h.download(c, func(rec *task.Record) string { return rec.MediaArtifactRef }, "Media")
}

func (h *TaskHandler) download(c *fiber.Ctx, ref func(*task.Record) string, what string) error {
	rec, err := h.engine.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	path := ref(rec)
	if path == "" {
		return errorJSON(c, fiber.StatusNotFound, what+" file not available", CodeNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errorJSON(c, fiber.StatusNotFound, what+" file no longer exists", CodeNotFound)
		}
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read file", CodeInternal)
	}
	return c.Download(path, filepath.Base(path))
}

// stringOptions flattens JSON option values into the task option bag.
func stringOptions(raw map[string]any) task.Options {
	opts := task.Options{}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			opts[k] = val
		default:
			opts[k] = fmt.Sprint(val)
		}
	}
	return opts
}
