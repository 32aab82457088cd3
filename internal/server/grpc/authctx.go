package grpcserver

import (
	"context"

	"github.com/and161185/slotkeeper/internal/model"
)

type ctxKey string

const principalKey ctxKey = "sk.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the caller stored by the auth interceptor.
func PrincipalFromCtx(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	if !ok || !p.Role.Valid() {
		return model.Principal{}, false
	}
	return p, true
}
