// Package handlers exposes the task engine over HTTP and websockets.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/mediascribe/internal/events"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Engine is the part of the scheduler the handlers drive.
type Engine interface {
	SubmitRecord(ctx context.Context, rec *task.Record) error
	Cancel(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (*task.Record, error)
	List(ctx context.Context, filter task.Filter) ([]*task.Record, error)
	Delete(ctx context.Context, id string) error
	Subscribe(id string) (<-chan events.Event, func())
	Active() []string
	QueueDepth() int
	Workers() int
	Accepting() bool
	DroppedEvents() int64
}

// Error codes returned in the "code" field.
const (
	CodeBadRequest   = "ERR_BAD_REQUEST"
	CodeInvalidURL   = "ERR_INVALID_URL"
	CodeInvalidModel = "ERR_INVALID_MODEL"
	CodeOverloaded   = "ERR_OVERLOADED"
	CodeShutdown     = "ERR_SHUTTING_DOWN"
	CodeStore        = "ERR_STORE_UNAVAILABLE"
	CodeNotFound     = "ERR_NOT_FOUND"
	CodeTaskFinished = "ERR_TASK_FINISHED"
	CodeTaskRunning  = "ERR_TASK_RUNNING"
	CodeNoFile       = "ERR_NO_FILE"
	CodeInternal     = "ERR_INTERNAL"
)

func errorJSON(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

// requestError is a client error with its HTTP status and code.
type requestError struct {
	status  int
	message string
	code    string
}

func (e *requestError) Error() string { return e.message }

func badRequest(code, format string, args ...any) error {
	return &requestError{status: fiber.StatusBadRequest, message: fmt.Sprintf(format, args...), code: code}
}

// respondError writes requestErrors as they are and everything else through
// engineError.
func respondError(c *fiber.Ctx, err error) error {
	var re *requestError
	if errors.As(err, &re) {
		return errorJSON(c, re.status, re.message, re.code)
	}
	return engineError(c, err)
}

// engineError maps engine errors onto HTTP statuses.
func engineError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Task not found", CodeNotFound)
	case errors.Is(err, task.ErrShuttingDown):
		return errorJSON(c, fiber.StatusServiceUnavailable, "Server is shutting down", CodeShutdown)
	case errors.Is(err, task.ErrStoreUnavailable):
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error(), CodeStore)
	case errors.Is(err, task.ErrInvalidState):
		return errorJSON(c, fiber.StatusConflict, err.Error(), CodeTaskRunning)
	default:
		return errorJSON(c, fiber.StatusInternalServerError, err.Error(), CodeInternal)
	}
}
