package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse is the JSON body of a failed command.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// errCommand maps a controller error. A cancelled hold means the client went
// away or the server is stopping; anything else is a hardware fault.
func errCommand(err error) render.Renderer {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ErrResponse{
			Err:            err,
			HTTPStatusCode: http.StatusServiceUnavailable,
			StatusText:     "interrupted",
			ErrorText:      err.Error(),
		}
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "hardware fault",
		ErrorText:      err.Error(),
	}
}
