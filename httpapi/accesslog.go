package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

// statusWriter captures the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Flush keeps the event stream working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type sessionLookupFunc func(*http.Request) (userID schema.UserID, sessionID string)

// withAccessLog logs one line per request. Static assets log at debug.
func withAccessLog(next http.Handler, lookup sessionLookupFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		log := pslog.Ctx(r.Context()).With("remote", remoteAddr(r))
		if lookup != nil {
			if userID, sessionID := lookup(r); userID != "" {
				log = log.With("user", userID, "http_session", sessionID)
			}
		}
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", status,
			"bytes", sw.written,
			"duration_ms", time.Since(began).Milliseconds(),
		}
		if strings.HasPrefix(r.URL.Path, "/assets/") {
			log.Debug("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	})
}

// remoteAddr prefers the first X-Forwarded-For hop and strips the port.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
