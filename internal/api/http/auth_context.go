package httpapi

import (
	"context"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

type authContextKey string

const (
	actorKey  authContextKey = "actor"
	filterKey authContextKey = "securityFilter"
)

func withActor(ctx context.Context, a *security.Actor) context.Context {
	if a == nil {
		return ctx
	}
	return context.WithValue(ctx, actorKey, a)
}

func actorFromContext(ctx context.Context) *security.Actor {
	val := ctx.Value(actorKey)
	if v, ok := val.(*security.Actor); ok {
		return v
	}
	return nil
}

func withFilter(ctx context.Context, f security.Filter) context.Context {
	return context.WithValue(ctx, filterKey, f)
}

// filterFromContext returns the request's visibility filter; absent means allow all.
func filterFromContext(ctx context.Context) security.Filter {
	if v, ok := ctx.Value(filterKey).(security.Filter); ok {
		return v
	}
	return security.AllowAll()
}
