package instance

import (
	"os"
	"strings"
)

// GetID identifies this process to shared coordination state such as the
// cron lock. CREDITS_WORKER_ID wins, then the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("CREDITS_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
