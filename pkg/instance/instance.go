package instance

import "os"

// GetID names this process in logs and lock ownership. DISPATCH_INSTANCE_ID
// wins, then DYNO, then the hostname.
func GetID() string {
	for _, key := range []string{"DISPATCH_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
