package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"muhost/internal/activity"
)

// maxPanicBody caps the diagnostic returned for a recovered panic.
const maxPanicBody = 8000

// noStore marks every response uncacheable and disables content sniffing.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a handler panic into a 500 with a plain-text diagnostic.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			ev := zlog.Error().Interface("panic", rec).Bytes("stack", stack)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Str("path", r.URL.Path).Msg("handler panic")

			diag := fmt.Sprintf("panic: %v\n\n%s", rec, stack)
			if len(diag) > maxPanicBody {
				diag = diag[:maxPanicBody]
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, diag)
		}()
		next.ServeHTTP(w, r)
	})
}

// trackActivity counts the request as activity for the idle supervisor.
func trackActivity(t *activity.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exit := t.Enter()
			defer exit()
			next.ServeHTTP(w, r)
		})
	}
}
