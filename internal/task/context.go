package task

import "context"

type idKey struct{}

// WithID tags ctx with the ID of the task a collaborator works for, so
// fetchers and transcribers can place their artifacts per task.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// IDFromContext returns the task ID set by WithID.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}
