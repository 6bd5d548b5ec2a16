package instance

import (
	"os"
	"strings"
)

const fallbackID = "billing-0"

// GetID identifies the running process in logs. BILLING_INSTANCE_ID wins,
// then the platform dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{"BILLING_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
