package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/orderflow/internal/apperr"
)

// StatusError is an unmapped non-2xx response from a remote authority.
type StatusError struct {
	Target  string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Target, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Target, e.Code, e.Message)
}

// DecodeStatus maps a non-2xx response of target to a classified error.
// Statuses without a mapping are returned as *StatusError.
func DecodeStatus(target string, status int, body []byte) error {
	msg := responseMessage(body)
	switch {
	case status == http.StatusBadRequest:
		return apperr.Validation(apperr.ReasonBadRequest, withDefault(msg, target+" rejected the request"))
	case status == http.StatusNotFound:
		return &apperr.Error{
			Kind:   apperr.NotFound,
			Reason: "not_found",
			Msg:    withDefault(msg, target+": resource not found"),
		}
	case status == http.StatusRequestTimeout:
		return apperr.Unavailable(target, apperr.ReasonTimeout, &StatusError{Target: target, Code: status, Message: msg})
	case status == http.StatusTooManyRequests:
		return apperr.Unavailable(target, apperr.ReasonThrottled, &StatusError{Target: target, Code: status, Message: msg})
	case status >= http.StatusInternalServerError:
		return apperr.Unavailable(target, apperr.ReasonUpstreamError, &StatusError{Target: target, Code: status, Message: msg})
	default:
		return &StatusError{Target: target, Code: status, Message: msg}
	}
}

// responseMessage extracts a human readable message from an error body.
// JSON bodies are searched for "message" then "error"; anything else is
// returned trimmed.
func responseMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return truncate(raw)
	}
	var message, fallback string
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		switch key {
		case "message":
			message = v
		case "error":
			fallback = v
		}
		return nil
	}); err != nil {
		return truncate(raw)
	}
	return withDefault(message, fallback)
}

func truncate(s string) string {
	const limit = 256
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
