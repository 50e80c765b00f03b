package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

// statusOf maps an error kind to its HTTP status.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.ValidationFailed:
		return http.StatusBadRequest
	case apperr.StockInsufficient, apperr.ConcurrencyConflict:
		return http.StatusConflict
	case apperr.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {code, reason, message}. Internal errors are
// logged and their details are not exposed.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		// The client is gone.
		w.WriteHeader(499)
		return
	}

	var e *apperr.Error
	if !errors.As(err, &e) {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	status := statusOf(e.Kind)
	if status >= http.StatusInternalServerError {
		zctx.From(ctx).Warn("Request failed", zap.Error(err))
	}
	reason := e.Reason
	if reason == "" {
		reason = e.Kind.String()
	}
	writeStatus(w, status, reason, e.Msg)
}

func writeStatus(w http.ResponseWriter, status int, reason, msg string) {
	httpmiddleware.WriteError(w, status, reason, msg)
}

func badRequest(msg string) error {
	return apperr.Validation(apperr.ReasonBadRequest, msg)
}

// invalidRequest flattens validator errors into one message.
func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return badRequest(strings.Join(msgs, "; "))
}
