package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/store"
)

const maxFormBytes = 64 << 10

// render writes a view, falling back to a plain text error when the view
// cannot be rendered.
func (r *Realm) render(w http.ResponseWriter, req *http.Request, status int, view string, data map[string]interface{}) {
	err := r.views.Render(w, req, status, view, data)
	if err != nil {
		log := logutil.GetOrDefault(req.Context())
		log.Error().Err(err).Str("view", view).Msg("Unable to render view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (r *Realm) errorPage(w http.ResponseWriter, req *http.Request, status int, message string) {
	err := r.views.Render(w, req, status, "error", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	if err != nil {
		http.Error(w, message, status)
	}
}

func (r *Realm) unavailable(w http.ResponseWriter, req *http.Request, op string) {
	r.metrics.StoreErrors.WithLabelValues(op).Inc()
	r.errorPage(w, req, http.StatusServiceUnavailable, "Service temporarily unavailable, please try again later")
}

// failed maps an unexpected error to 503 when the store is at fault and
// 500 otherwise.
func (r *Realm) failed(w http.ResponseWriter, req *http.Request, op string, err error) {
	log := logutil.GetOrDefault(req.Context())
	log.Error().Err(err).Str("op", op).Msg("Request failed")
	if errors.Is(err, store.ErrUnavailable) {
		r.unavailable(w, req, op)
		return
	}
	r.errorPage(w, req, http.StatusInternalServerError, "Something went wrong")
}

func writeJSON(w http.ResponseWriter, req *http.Request, status int, body interface{}) {
	buf, err := json.Marshal(body)
	if err != nil {
		log := logutil.GetOrDefault(req.Context())
		log.Error().Err(err).Msg("Unable to encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf)
}

// parseForm reads an urlencoded body of bounded size.
func parseForm(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxFormBytes)
	return req.ParseForm()
}
