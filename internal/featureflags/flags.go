package featureflags

import (
	"os"
	"strings"
)

const (
	// Docs serves /docs and /openapi.json
	Docs = "docs"
	// ConsistencyWorker runs the coordinator's loan/availability checker
	ConsistencyWorker = "consistency_worker"
)

// Enabled reports whether a flag is on. Flags are read from env as
// FLAG_<NAME>=true/1/yes/on or false/0/no/off (case-insensitive); unset or
// unrecognised values fall back to def.
func Enabled(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv("FLAG_" + strings.ToUpper(name)))
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
