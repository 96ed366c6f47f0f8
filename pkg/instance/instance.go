package instance

import (
	"os"
	"strings"
)

const fallbackID = "oilshop-0"

// ID names this process in lock values and logs. OILSHOP_INSTANCE_ID wins,
// then the hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("OILSHOP_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
