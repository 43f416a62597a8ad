package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
	"github.com/appvend/appvend/pkg/observability"
)

// Recover converts handler panics into a structured 500 response so a
// single bad request cannot take down the process.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.FromContext(r.Context()).
					WithField("panic", fmt.Sprintf("%v", rec)).
					WithField("stack", string(debug.Stack())).
					Error("recovered from handler panic")
				httputil.WriteAppError(w,
					apperr.Internal(apperr.CodeUnexpectedFailure, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Chain composes middleware so the first listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
