package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// redactedParams are query parameters that carry credentials: the admin JWT
// on the websocket upgrade and the confirmation token.
var redactedParams = []string{"token"}

// accessLogger is chi's request logger writing through the service logger,
// with credential query parameters masked.
func accessLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(redactingFormatter{
		next: &middleware.DefaultLogFormatter{
			Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
			NoColor: true,
		},
	})
}

type redactingFormatter struct {
	next middleware.LogFormatter
}

func (f redactingFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return f.next.NewLogEntry(redactQuery(r))
}

// redactQuery returns a shallow copy of r whose URL hides redactedParams.
// r itself is left untouched.
func redactQuery(r *http.Request) *http.Request {
	q := r.URL.Query()
	changed := false
	for _, name := range redactedParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return r
	}

	u := *r.URL
	u.RawQuery = q.Encode()
	out := r.WithContext(r.Context())
	out.URL = &u
	out.RequestURI = u.RequestURI()
	return out
}
