package internal

import (
	"expvar"
	"net/http"
)

var (
	requestsTotal = expvar.NewMap("taskhooks_requests_total")
	parseErrors   = expvar.NewMap("taskhooks_parse_errors_total")
	eventsTotal   = expvar.NewMap("taskhooks_events_total")
	publishErrors = expvar.NewMap("taskhooks_publish_errors_total")
)

// IncRequest counts a webhook delivery by outcome (PARSED, IGNORED, ...).
func IncRequest(result string) {
	requestsTotal.Add(result, 1)
}

func IncParseError(reason string) {
	parseErrors.Add(reason, 1)
}

func IncEvent(kind string) {
	eventsTotal.Add(kind, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

// MetricsHandler serves every expvar variable as JSON.
func MetricsHandler() http.Handler {
	return expvar.Handler()
}
