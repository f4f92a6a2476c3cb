package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	httputil.WriteSuccess(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.ValidationError("Request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.ValidationError("Request body is required")
		default:
			return apperrors.ValidationError("Invalid JSON body")
		}
	}
	return nil
}
