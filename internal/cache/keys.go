package cache

import (
	"fmt"
	"strings"
)

// TenantHostKey caches the directory entry for a hostname.
func TenantHostKey(hostname string) string {
	return fmt.Sprintf("tenant:host:%s", strings.ToLower(hostname))
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
