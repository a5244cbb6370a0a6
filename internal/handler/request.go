package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// mediaType returns the bare media type of the request body.
func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func isForm(mt string) bool {
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// decodeJSON decodes a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// parseForm parses an urlencoded or multipart body.
func parseForm(r *http.Request, maxMemory int64) error {
	var err error
	if mediaType(r) == "multipart/form-data" {
		err = r.ParseMultipartForm(maxMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// formBool returns nil when the field is absent.
func formBool(r *http.Request, name string) (*bool, error) {
	if _, ok := r.Form[name]; !ok {
		return nil, nil
	}
	v, err := strconv.ParseBool(r.Form.Get(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a boolean", errMalformedBody, name)
	}
	return &v, nil
}

// formString returns nil when the field is absent.
func formString(r *http.Request, name string) *string {
	if _, ok := r.Form[name]; !ok {
		return nil
	}
	v := r.Form.Get(name)
	return &v
}

// parseIDList parses "1,2,3". A non-numeric entry is kept as -1 so the
// post validation rejects it.
func parseIDList(s string) []int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int64{}
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			id = -1
		}
		out = append(out, id)
	}
	return out
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}
