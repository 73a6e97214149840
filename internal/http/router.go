package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Datapoints    http.HandlerFunc
	DatapointRead http.HandlerFunc
	Refresh       http.HandlerFunc
	History       http.HandlerFunc
	Command       http.HandlerFunc
	Scheduler     http.HandlerFunc
	Webhook       http.HandlerFunc
	StateStream   http.HandlerFunc
	Health        http.HandlerFunc
	Metrics       http.Handler

	// Auth protects consumer-facing endpoints; the webhook authenticates
	// through its payload signature instead.
	Auth func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	protect := routes.Auth
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	if routes.Datapoints != nil {
		mux.Handle("/datapoints", protect(method(http.MethodGet, routes.Datapoints)))
	}
	if routes.DatapointRead != nil {
		mux.Handle("/datapoints/read", protect(method(http.MethodGet, routes.DatapointRead)))
	}
	if routes.Refresh != nil {
		mux.Handle("/datapoints/refresh", protect(method(http.MethodPost, routes.Refresh)))
	}
	if routes.History != nil {
		mux.Handle("/datapoints/history", protect(method(http.MethodGet, routes.History)))
	}
	if routes.Command != nil {
		mux.Handle("/commands", protect(method(http.MethodPost, routes.Command)))
	}
	if routes.Scheduler != nil {
		mux.Handle("/scheduler", protect(method(http.MethodPost, routes.Scheduler)))
	}
	if routes.StateStream != nil {
		mux.Handle("/ws", protect(method(http.MethodGet, routes.StateStream)))
	}
	if routes.Webhook != nil {
		mux.Handle("/webhooks/vendor", method(http.MethodPost, routes.Webhook))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
