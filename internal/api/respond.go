package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperr "curbspot/internal/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError translates the error taxonomy into the HTTP contract. The
// response body always names the kind so clients can branch without
// parsing messages.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if retryAfter := apperr.RetryAfterOf(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	message := err.Error()
	if kind == apperr.KindInternal || kind == apperr.KindDatastoreUnavailable {
		// Internal details stay in the logs.
		message = "something went wrong"
	}
	writeJSON(w, apperr.HTTPStatus(kind), errorBody{Error: string(kind), Message: message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request body")
	}
	return nil
}

// accessToken pulls the guest access token from the header or, for links
// embedded in guest emails, the query string.
func accessToken(r *http.Request) string {
	if t := r.Header.Get("X-Access-Token"); t != "" {
		return t
	}
	return r.URL.Query().Get("access_token")
}
