package middleware

import (
	"context"
	"net/http"
	"sync"
)

type contextKey string

const (
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
	logFieldsKey    contextKey = "log_fields"
)

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}

// logFields collects attributes that inner handlers add to the request log line.
type logFields struct {
	mu    sync.Mutex
	attrs []any
}

func (f *logFields) add(key string, value any) {
	f.mu.Lock()
	f.attrs = append(f.attrs, key, value)
	f.mu.Unlock()
}

func (f *logFields) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.attrs...)
}

// AddLogField attaches key/value to the request log line written by Logger.
// It is a no-op outside a Logger-wrapped request.
func AddLogField(ctx context.Context, key string, value any) {
	if f, ok := ctx.Value(logFieldsKey).(*logFields); ok {
		f.add(key, value)
	}
}
