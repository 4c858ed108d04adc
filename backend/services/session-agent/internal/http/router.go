package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Health       http.HandlerFunc
	Token        http.HandlerFunc
	Sessions     http.HandlerFunc
	OpenSessions http.HandlerFunc
	DeviceState  http.HandlerFunc
	Stream       http.Handler
}

// NewRouter registers endpoints. Everything except health and token goes through protect.
func NewRouter(routes Routes, protect func(http.Handler) http.Handler) http.Handler {
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	mux := http.NewServeMux()
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Token != nil {
		mux.Handle("/auth/token", method(http.MethodPost, routes.Token))
	}
	if routes.Sessions != nil {
		mux.Handle("/sessions", protect(method(http.MethodGet, routes.Sessions)))
	}
	if routes.OpenSessions != nil {
		mux.Handle("/sessions/open", protect(method(http.MethodGet, routes.OpenSessions)))
	}
	if routes.DeviceState != nil {
		mux.Handle("/devices/state", protect(method(http.MethodGet, routes.DeviceState)))
	}
	if routes.Stream != nil {
		mux.Handle("/sessions/stream", protect(method(http.MethodGet, routes.Stream.ServeHTTP)))
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
