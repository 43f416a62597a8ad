package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/appvend/appvend/pkg/apperr"
)

// ParseJSON decodes JSON from the request body into the destination.
func ParseJSON(r *http.Request, dest interface{}) *apperr.Error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperr.BadRequest(apperr.CodeMissingParameter,
			fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error response on failure.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, err)
		return false
	}
	return true
}

// PathInt64 extracts and parses an int64 path parameter.
func PathInt64(r *http.Request, key string) (int64, *apperr.Error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, apperr.BadRequest(apperr.CodeMissingParameter,
			fmt.Sprintf("missing path parameter: %s", key))
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest(apperr.CodeMissingParameter,
			fmt.Sprintf("invalid integer for %s: %s", key, str))
	}
	return val, nil
}

// PathInt64OrError extracts an int64 path parameter and writes an error
// response on failure.
func PathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := PathInt64(r, key)
	if err != nil {
		WriteAppError(w, err)
		return 0, false
	}
	return val, true
}

// PathString extracts a string path parameter.
func PathString(r *http.Request, key string) (string, *apperr.Error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperr.BadRequest(apperr.CodeMissingParameter,
			fmt.Sprintf("missing path parameter: %s", key))
	}
	return str, nil
}

// PathStringOrError extracts a string path parameter and writes an error
// response on failure.
func PathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := PathString(r, key)
	if err != nil {
		WriteAppError(w, err)
		return "", false
	}
	return val, true
}

// QueryInt extracts an integer query parameter with a default.
func QueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// QueryString extracts a string query parameter with a default.
func QueryString(r *http.Request, key, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// QueryBool extracts a boolean query parameter with a default.
func QueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}
