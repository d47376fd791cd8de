package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ParseJSONOrError decodes the request body into dest. On malformed JSON it
// writes the 400 itself and reports false, so handlers can bail with a bare
// return.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		WriteValidationError(w, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// ParseQueryInt reads an integer query parameter, or the default when the
// parameter is absent.
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, raw)
	}
	return val, nil
}

// ParseQueryString reads a string query parameter with a default.
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool reads a boolean query parameter. Flags like match_all and
// upload ride on the query string rather than the body.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, raw)
	}
	return val, nil
}

// Validator reports whether a value is acceptable, with the message to
// return when it is not.
type Validator func() (bool, string)

// ValidateAll runs the validators in order and writes a 400 for the first
// failure.
func ValidateAll(w http.ResponseWriter, validators ...Validator) bool {
	for _, validate := range validators {
		if ok, msg := validate(); !ok {
			WriteValidationError(w, msg)
			return false
		}
	}
	return true
}
