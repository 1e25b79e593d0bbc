package api

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MikeSquared-Agency/sitechat/internal/domain"
	"github.com/MikeSquared-Agency/sitechat/internal/orchestrator"
)

func statusFor(err error) int {
	var verrs validation.Errors
	switch {
	case errors.Is(err, orchestrator.ErrInvalidURL),
		errors.Is(err, orchestrator.ErrEmptyQuestion),
		errors.Is(err, orchestrator.ErrInvalidOptions),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUnknownCrawl):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy), errors.Is(err, orchestrator.ErrCrawlActive):
		return http.StatusConflict
	}

	switch domain.KindOf(err) {
	case domain.KindMissingPrerequisite:
		return http.StatusPreconditionFailed
	case domain.KindSubmissionFailed, domain.KindTransportError, domain.KindUnknownStatus:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body := map[string]string{"error": err.Error()}
	if kind := domain.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}
