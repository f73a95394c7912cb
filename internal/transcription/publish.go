package transcription

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Publisher copies a saved transcript somewhere users can reach it and
// returns the link. storage.DriveClient is the bundled implementation.
type Publisher interface {
	Publish(ctx context.Context, localPath string, result *task.TranscriptionResult) (string, error)
}

// publisher retries uploads. A transcript that cannot be published is still
// a successful transcription; it just stays local.
type publisher struct {
	target   Publisher
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func newPublisher(target Publisher, attempts int, backoff time.Duration, logger *zap.Logger) *publisher {
	return &publisher{target: target, attempts: attempts, backoff: backoff, logger: logger}
}

func (p *publisher) publish(ctx context.Context, localPath string, result *task.TranscriptionResult) string {
	if p == nil || p.target == nil {
		return ""
	}
	for attempt := 1; attempt <= p.attempts; attempt++ {
		link, err := p.target.Publish(ctx, localPath, result)
		if err == nil {
			return link
		}
		p.logger.Warn("publish attempt failed",
			zap.String("task_id", result.TaskID),
			zap.Int("attempt", attempt),
			zap.Int("attempts", p.attempts),
			zap.Error(err))
		if attempt == p.attempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * p.backoff):
		case <-ctx.Done():
			return ""
		}
	}
	p.logger.Warn("publish failed, keeping local copy only",
		zap.String("task_id", result.TaskID),
		zap.String("path", localPath))
	return ""
}
