package handler

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/negotiate"
	"github.com/prn-tf/alexander-cms/internal/service"
)

var (
	errRouteNotFound    = domain.NewDomainError(domain.ErrNotFound, "no route", "")
	errMethodNotAllowed = errors.New("method not allowed")
	errMalformedBody    = errors.New("malformed request body")
)

// Error codes reported in error documents.
const (
	codeValidation       = "ValidationFailed"
	codeNotFound         = "NotFound"
	codeUnsupportedType  = "UnsupportedType"
	codeUnknownType      = "UnknownContentType"
	codeForbidden        = "Forbidden"
	codeNotAcceptable    = "NotAcceptable"
	codeTooManyRequests  = "TooManyRequests"
	codeBusy             = "Busy"
	codeOpenIDAgent      = "OpenIDAgent"
	codeMalformedBody    = "MalformedBody"
	codeMethodNotAllowed = "MethodNotAllowed"
	codeInternal         = "InternalError"
)

// splitFormat separates a trailing format extension: "12.json" -> "12", "json".
func splitFormat(segment string) (string, string) {
	ext := path.Ext(segment)
	if ext == "" || ext == segment {
		return segment, ""
	}
	return strings.TrimSuffix(segment, ext), ext[1:]
}

// splitKnownFormat is splitFormat restricted to document formats, for path
// segments that may themselves contain dots.
func splitKnownFormat(segment string) (string, string) {
	rest, ext := splitFormat(segment)
	switch negotiate.ParseFormat(ext) {
	case negotiate.FormatJSON, negotiate.FormatXML, negotiate.FormatYAML, negotiate.FormatAtom, "atomsvc":
		return rest, ext
	}
	return segment, ""
}

// requestFormat picks the representation from the URL extension, then the
// format query parameter, then the Accept header.
func requestFormat(r *http.Request, ext string) negotiate.Format {
	if ext != "" {
		return negotiate.ParseFormat(ext)
	}
	if f := r.URL.Query().Get("format"); f != "" {
		return negotiate.ParseFormat(f)
	}
	return negotiate.FormatFromAccept(r.Header.Get("Accept"))
}

// documentFormat narrows f to one RenderValue can produce.
func documentFormat(f negotiate.Format) negotiate.Format {
	switch f {
	case negotiate.FormatJSON, negotiate.FormatXML, negotiate.FormatYAML:
		return f
	}
	return negotiate.FormatJSON
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewDomainError(domain.ErrNotFound, "invalid id", s)
	}
	return id, nil
}

// write sends rep, or the error that prevented rendering it.
func (rt *Router) write(w http.ResponseWriter, r *http.Request, status int, rep *negotiate.Representation, err error, format negotiate.Format) {
	if err != nil {
		rt.writeError(w, r, err, format)
		return
	}
	if err := rep.Write(w, status); err != nil {
		rt.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("failed to write response")
	}
}

// setNotices exposes the notices and the session-bound agent as headers.
func setNotices(w http.ResponseWriter, current *domain.Agent, notices []string) {
	if current != nil {
		w.Header().Set("X-Current-Agent", strconv.FormatInt(current.ID, 10))
	}
	for _, n := range notices {
		w.Header().Add("X-Notice", n)
	}
}

// errorStatus maps the error taxonomy to an HTTP status and code.
func errorStatus(err error, format negotiate.Format) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		if format == negotiate.FormatAtom || (format != negotiate.FormatAny && !format.IsStructured()) {
			return http.StatusBadRequest, codeValidation
		}
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrUnsupportedType):
		return http.StatusBadRequest, codeUnsupportedType
	case errors.Is(err, domain.ErrUnknownContentType):
		return http.StatusBadRequest, codeUnknownType
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, domain.ErrNotAcceptable):
		return http.StatusNotAcceptable, codeNotAcceptable
	case errors.Is(err, service.ErrTooManyRequests):
		return http.StatusTooManyRequests, codeTooManyRequests
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, codeBusy
	case errors.Is(err, service.ErrOpenIDAgent):
		return http.StatusUnprocessableEntity, codeOpenIDAgent
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, codeMalformedBody
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, codeMethodNotAllowed
	}
	return http.StatusInternalServerError, codeInternal
}

// writeError renders err as an error document in format, falling back to JSON.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error, format negotiate.Format) {
	status, code := errorStatus(err, format)

	message := err.Error()
	var (
		target string
		fields map[string][]string
	)
	if verr, ok := domain.AsValidationError(err); ok {
		target = string(verr.Target)
		fields = verr.Fields
		message = ""
	}
	if status == http.StatusInternalServerError {
		rt.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		message = service.ErrInternalError.Error()
	}

	rep, rerr := rt.negotiator.RenderError(negotiate.ErrorDocument(target, code, message, fields), format)
	if rerr != nil {
		rt.logger.Error().Err(rerr).Msg("failed to render error")
		http.Error(w, message, status)
		return
	}
	if err := rep.Write(w, status); err != nil {
		rt.logger.Debug().Err(err).Msg("failed to write error response")
	}
}
