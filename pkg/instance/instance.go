package instance

import "os"

const envInstanceID = "ESCROW_INSTANCE_ID"

// GetID identifies this replica in logs and cron lock ownership. It prefers
// ESCROW_INSTANCE_ID, then the platform dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{envInstanceID, "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
