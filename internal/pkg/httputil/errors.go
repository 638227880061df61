package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/courier/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to an HTTP response. An empty Message
// falls back to err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Code    string
	Message string
}

// HandleError writes the first mapping err matches. Unmatched errors are
// logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, m.Status, errorBody{Code: m.Code, Message: msg})
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal error"})
}
