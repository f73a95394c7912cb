package handlers

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
	"github.com/codebuildervaibhav/mediascribe/internal/transcription"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	tasks     *TaskHandler
	uploadDir string
	maxSizeMB int
	logger    *zap.Logger
}

// NewUploadHandler creates a new upload handler. Accepted files are stored
// in uploadDir and submitted through tasks as file:// sources.
func NewUploadHandler(tasks *TaskHandler, uploadDir string, maxSizeMB int, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{
		tasks:     tasks,
		uploadDir: uploadDir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
	}
}

// Handle processes POST /api/upload. Form fields: file, name, model_name,
// language, output_format, keep_media.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	// Get uploaded file
	file, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file uploaded", CodeNoFile)
	}

	// Validate file size
	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if h.maxSizeMB > 0 && file.Size > maxSize {
		return errorJSON(c, fiber.StatusBadRequest,
			fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB), "ERR_FILE_TOO_LARGE")
	}

	// Validate file format
	if !transcription.ValidateAudioFormat(file.Filename) {
		return errorJSON(c, fiber.StatusBadRequest, "Unsupported audio format", "ERR_INVALID_FORMAT")
	}

	opts := task.Options{}
	for _, key := range []string{task.OptLanguage, task.OptOutputFormat, task.OptKeepMedia} {
		if v := strings.TrimSpace(c.FormValue(key)); v != "" {
			opts[key] = v
		}
	}
	title := strings.TrimSpace(c.FormValue("name"))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
	}
	opts[task.OptTitle] = title

	// Unique name; the fetcher strips the uuid prefix again for the title.
	name := storage.SanitizeFilename(strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename)))
	savePath, err := filepath.Abs(filepath.Join(h.uploadDir,
		fmt.Sprintf("%s_%s%s", uuid.NewString(), name, strings.ToLower(filepath.Ext(file.Filename)))))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}

	rec, err := h.tasks.newRecord((&url.URL{Scheme: "file", Path: filepath.ToSlash(savePath)}).String(), c.FormValue("model_name"), opts)
	if err != nil {
		return respondError(c, err)
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("create upload directory failed", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}
	if err := c.SaveFile(file, savePath); err != nil {
		h.logger.Error("failed to save uploaded file", zap.String("path", savePath), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}

	h.logger.Info("file uploaded",
		zap.String("task_id", rec.ID),
		zap.String("file", file.Filename),
		zap.Int64("size", file.Size),
	)
	if err := h.tasks.submit(c, rec); err != nil {
		_ = os.Remove(savePath)
		return err
	}
	if c.Response().StatusCode() != fiber.StatusOK {
		_ = os.Remove(savePath)
	}
	return nil
}
