package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
)

type crawlRequest struct {
	URL string `json:"url"`
}

func (r crawlRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, is.URL),
	)
}

type askRequest struct {
	Question string `json:"question"`
}

func (r askRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Question, validation.Required),
	)
}

// settingsView is the public form of the options bag. Credentials are
// reported only as set or unset.
type settingsView struct {
	config.Options
	CrawlCredentialSet bool `json:"crawl_credential_set"`
	ModelCredentialSet bool `json:"model_credential_set"`
}

func redact(o config.Options) settingsView {
	v := settingsView{
		Options:            o,
		CrawlCredentialSet: o.CrawlCredential != "",
		ModelCredentialSet: o.ModelCredential != "",
	}
	v.CrawlCredential = ""
	v.ModelCredential = ""
	return v
}

func decodeBody(r *http.Request, v validation.Validatable) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return validation.Errors{"body": fmt.Errorf("invalid JSON: %w", err)}
	}
	return v.Validate()
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.svc.StartCrawl(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.svc.Track(job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CheckCrawl(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	streamID := uuid.New().String()
	sink := newSSESink(w, streamID, s.logger)
	stop := make(chan struct{})
	go sink.keepalive(keepaliveInterval, stop)
	defer close(stop)

	s.logger.Info("answer stream opened", "site", site, "stream_id", streamID)
	err := s.svc.Ask(r.Context(), site, req.Question, sink)
	if err != nil && !sink.Started() {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("answer stream closed", "site", site, "stream_id", streamID, "error", err)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	turns, err := s.svc.History(r.Context(), site)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": site, "turns": turns})
}

func (s *Server) resetHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResetHistory(r.Context(), chi.URLParam(r, "site")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	opts, err := s.svc.Options(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(opts))
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var update config.Options
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, r, validation.Errors{"body": fmt.Errorf("invalid JSON: %w", err)})
		return
	}
	opts, err := s.svc.SaveOptions(r.Context(), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(opts))
}
