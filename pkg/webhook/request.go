package webhook

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxDebugBody = 4096

// requestID returns the caller's X-Request-Id or a fresh one.
func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func logDebugEvent(logger *log.Logger, provider, event string, body []byte) {
	if len(body) > maxDebugBody {
		logger.Printf("debug %s event=%s body=%s... (%d bytes)", provider, event, body[:maxDebugBody], len(body))
		return
	}
	logger.Printf("debug %s event=%s body=%s", provider, event, body)
}
