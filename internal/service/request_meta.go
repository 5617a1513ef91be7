package service

import "context"

type requestMetaKey struct{}

// RequestMeta is the caller information stamped on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta stores caller details on ctx for audit logging.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, RequestMeta{IP: ip, UserAgent: userAgent})
}

// RequestMetaFrom returns the stored caller details. Background work without a
// request is attributed to "system".
func RequestMetaFrom(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{IP: "system", UserAgent: "system"}
}
