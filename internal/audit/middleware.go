package audit

import (
	"context"
	"net/http"

	"github.com/darkden-lab/modhost/internal/httputil"
)

// RequestInfo is the client information attached to audit events.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

type contextKey struct{}

func ContextWithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(RequestInfo)
	return info, ok
}

// RequestInfoMiddleware stores the caller's IP address and user agent in the
// request context for later audit events.
func RequestInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithRequestInfo(r.Context(), RequestInfo{
			IPAddress: httputil.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
