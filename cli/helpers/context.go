package helpers

import (
	"context"

	"github.com/tencdm/tencdm/engine/hub"
)

type contextKey string

const (
	hubCtxKey      contextKey = "hub"
	buildErrCtxKey contextKey = "build_error"

	// AnnotationDeferConfigErrors marks commands that report configuration
	// build failures themselves instead of failing in the pre-run hook.
	AnnotationDeferConfigErrors = "tencdm.defer-config-errors"
)

func ContextWithHub(ctx context.Context, h *hub.Hub) context.Context {
	return context.WithValue(ctx, hubCtxKey, h)
}

func HubFromContext(ctx context.Context) *hub.Hub {
	h, _ := ctx.Value(hubCtxKey).(*hub.Hub)
	return h
}

func ContextWithBuildError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, buildErrCtxKey, err)
}

// BuildErrorFromContext returns the deferred configuration error, if any.
func BuildErrorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(buildErrCtxKey).(error)
	return err
}
