// Package orchestrator ties crawls, stored site content, conversation history
// and answer sessions together for the HTTP API and the CLI.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/sitechat/internal/answer"
	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/crawl"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
	"github.com/MikeSquared-Agency/sitechat/internal/hermes"
	"github.com/MikeSquared-Agency/sitechat/internal/store"
)

const (
	// pendingCrawl marks a site whose crawl is being submitted.
	pendingCrawl = ""
	// pollTimeout bounds one shared poll including the store writes it triggers.
	pollTimeout = 2 * time.Minute
)

var (
	ErrBusy           = errors.New("an answer is already in progress for this site")
	ErrCrawlActive    = errors.New("a crawl is in progress for this site")
	ErrUnknownCrawl   = errors.New("unknown crawl")
	ErrInvalidURL     = errors.New("invalid url")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrInvalidOptions = errors.New("invalid settings")
)

type Crawler interface {
	Submit(ctx context.Context, rawURL string, opts config.Options) (crawl.State, error)
	Poll(ctx context.Context, id string, opts config.Options) (crawl.State, error)
}

type Answerer interface {
	Ask(ctx context.Context, req answer.Request, sink answer.Sink) error
}

// Publisher receives lifecycle events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Deps configures a Service. Publisher may be nil.
type Deps struct {
	Crawler         Crawler
	Answerer        Answerer
	History         *conversation.Store
	Sites           *store.Sites
	BaseOptions     config.Options
	Publisher       Publisher
	PollInterval    time.Duration
	MaxPollFailures int
	Logger          *slog.Logger
}

// Job is the externally visible state of a crawl.
type Job struct {
	ID        string       `json:"crawl_id"`
	Site      string       `json:"site"`
	URL       string       `json:"url"`
	Status    crawl.Status `json:"status"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Progress  float64      `json:"progress"`
	Pages     int          `json:"pages,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (j Job) Terminal() bool {
	return j.Status == crawl.StatusCompleted || j.Status == crawl.StatusFailed
}

type Service struct {
	crawler         Crawler
	answerer        Answerer
	history         *conversation.Store
	sites           *store.Sites
	base            config.Options
	publisher       Publisher
	pollInterval    time.Duration
	maxPollFailures int
	logger          *slog.Logger
	now             func() time.Time

	polls singleflight.Group

	mu           sync.Mutex
	activeCrawls map[string]string // site -> crawl id
	answering    map[string]bool

	bg       context.Context
	stopBg   context.CancelFunc
	trackers sync.WaitGroup
}

func New(d Deps) *Service {
	if d.PollInterval <= 0 {
		d.PollInterval = time.Second
	}
	if d.MaxPollFailures <= 0 {
		d.MaxPollFailures = 1
	}
	bg, stop := context.WithCancel(context.Background())
	return &Service{
		crawler:         d.Crawler,
		answerer:        d.Answerer,
		history:         d.History,
		sites:           d.Sites,
		base:            d.BaseOptions,
		publisher:       d.Publisher,
		pollInterval:    d.PollInterval,
		maxPollFailures: d.MaxPollFailures,
		logger:          d.Logger,
		now:             time.Now,
		activeCrawls:    make(map[string]string),
		answering:       make(map[string]bool),
		bg:              bg,
		stopBg:          stop,
	}
}

// Close stops background crawl tracking and waits for it to finish. It may be
// called more than once.
func (s *Service) Close() {
	s.stopBg()
	s.trackers.Wait()
}

// StartCrawl submits a crawl for rawURL. While it runs, questions about the
// same site are rejected with ErrCrawlActive. It is rejected with ErrBusy
// while an answer for the site is streaming, since completion clears the
// conversation the answer is about to extend.
func (s *Service) StartCrawl(ctx context.Context, rawURL string) (_ Job, err error) {
	site, err := crawl.SiteOf(rawURL)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	s.mu.Lock()
	if s.answering[site] {
		s.mu.Unlock()
		return Job{}, ErrBusy
	}
	prev, hadPrev := s.activeCrawls[site]
	s.activeCrawls[site] = pendingCrawl
	s.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.activeCrawls[site] != pendingCrawl {
			return
		}
		if hadPrev {
			s.activeCrawls[site] = prev
		} else {
			delete(s.activeCrawls, site)
		}
	}()

	opts, err := s.Options(ctx)
	if err != nil {
		return Job{}, err
	}

	st, err := s.crawler.Submit(ctx, rawURL, opts)
	if err != nil {
		return Job{}, err
	}

	now := s.now().UTC()
	rec := store.CrawlRecord{
		ID:          st.ID,
		Site:        site,
		URL:         rawURL,
		Status:      string(st.Status),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := s.sites.SaveCrawl(ctx, rec); err != nil {
		return Job{}, fmt.Errorf("save crawl: %w", err)
	}

	s.mu.Lock()
	s.activeCrawls[site] = st.ID
	s.mu.Unlock()

	s.publish(hermes.SubjectCrawlSubmitted, s.crawlEvent(rec))
	s.logger.Info("crawl started", "crawl_id", st.ID, "site", site, "url", rawURL)
	return jobOf(rec), nil
}

// Track polls the crawl in the background until it finishes or the service
// is closed.
func (s *Service) Track(id string) {
	s.trackers.Add(1)
	go func() {
		defer s.trackers.Done()
		if _, err := s.AwaitCrawl(s.bg, id, nil); err != nil && s.bg.Err() == nil {
			s.logger.Warn("crawl tracking stopped", "crawl_id", id, "error", err)
		}
	}()
}

// CheckCrawl polls the job once and applies the result. Completion stores the
// new bundle and clears the site's history. Finished jobs are answered from
// the stored record without contacting upstream.
//
// Concurrent calls for the same job share one poll. The shared poll is not
// bound to any caller's context, so a caller that gives up only stops waiting.
func (s *Service) CheckCrawl(ctx context.Context, id string) (Job, error) {
	ch := s.polls.DoChan(id, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pollTimeout)
		defer cancel()
		return s.checkCrawl(pctx, id)
	})
	select {
	case res := <-ch:
		job, _ := res.Val.(Job)
		return job, res.Err
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (s *Service) checkCrawl(ctx context.Context, id string) (Job, error) {
	rec, err := s.sites.LoadCrawl(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownCrawl, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("load crawl: %w", err)
	}

	prev := crawl.State{ID: rec.ID, Status: crawl.Status(rec.Status), Completed: rec.Completed, Total: rec.Total}
	if prev.Terminal() {
		return jobOf(*rec), nil
	}

	opts, err := s.Options(ctx)
	if err != nil {
		return jobOf(*rec), err
	}
	obs, err := s.crawler.Poll(ctx, id, opts)
	if err != nil {
		return jobOf(*rec), err
	}
	next, err := prev.Advance(obs)
	if err != nil {
		return jobOf(*rec), err
	}

	changed := next.Status != prev.Status || next.Completed != prev.Completed || next.Total != prev.Total
	rec.Status = string(next.Status)
	rec.Completed = next.Completed
	rec.Total = next.Total
	rec.UpdatedAt = s.now().UTC()

	switch next.Status {
	case crawl.StatusCompleted:
		if err := s.completeCrawl(ctx, rec, next.Pages); err != nil {
			return jobOf(*rec), err
		}
	case crawl.StatusFailed:
		if next.Err != nil {
			rec.Error = next.Err.Error()
		}
		s.finishCrawl(rec.Site, id)
		s.publish(hermes.SubjectCrawlFailed, s.crawlEvent(*rec))
		s.logger.Warn("crawl failed", "crawl_id", id, "site", rec.Site, "error", next.Err)
	default:
		if changed {
			s.publish(hermes.SubjectCrawlProgress, s.crawlEvent(*rec))
		}
	}

	if err := s.sites.SaveCrawl(ctx, *rec); err != nil {
		return jobOf(*rec), fmt.Errorf("save crawl: %w", err)
	}
	return jobOf(*rec), nil
}

func (s *Service) completeCrawl(ctx context.Context, rec *store.CrawlRecord, pages domain.Bundle) error {
	if err := s.sites.SaveBundle(ctx, rec.Site, pages); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}
	s.history.Reset(rec.Site)
	if err := s.sites.ClearHistory(ctx, rec.Site); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	rec.Pages = len(pages)
	s.finishCrawl(rec.Site, rec.ID)

	s.publish(hermes.SubjectCrawlCompleted, s.crawlEvent(*rec))
	s.publish(hermes.SubjectHistoryReset, hermes.HistoryEvent{
		EventID:   hermes.NewEventID(),
		Site:      rec.Site,
		Reason:    "crawl_completed",
		Timestamp: s.now().UTC(),
	})
	s.logger.Info("crawl completed", "crawl_id", rec.ID, "site", rec.Site, "pages", len(pages))
	return nil
}

// finishCrawl clears the active marker unless a newer crawl replaced it.
func (s *Service) finishCrawl(site, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCrawls[site] == id {
		delete(s.activeCrawls, site)
	}
}

// AwaitCrawl polls until the job finishes, one poll at a time. Transport
// failures are retried until MaxPollFailures happen in a row. onProgress,
// if set, sees every successful observation.
func (s *Service) AwaitCrawl(ctx context.Context, id string, onProgress func(Job)) (Job, error) {
	failures := 0
	for {
		job, err := s.CheckCrawl(ctx, id)
		switch {
		case err == nil:
			failures = 0
			if onProgress != nil {
				onProgress(job)
			}
			if job.Terminal() {
				return job, nil
			}
		case domain.KindOf(err) == domain.KindTransportError && ctx.Err() == nil:
			failures++
			s.logger.Warn("crawl poll failed", "crawl_id", id, "failures", failures, "error", err)
			if failures >= s.maxPollFailures {
				s.abandonCrawl(job)
				return job, err
			}
		default:
			s.abandonCrawl(job)
			return job, err
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// abandonCrawl releases the site when a crawl can no longer be observed.
func (s *Service) abandonCrawl(job Job) {
	if job.Site != "" && !job.Terminal() {
		s.finishCrawl(job.Site, job.ID)
	}
}

// Ask answers question about site into sink. It fails fast with ErrBusy or
// ErrCrawlActive, before sink sees any event. The new turn pair is persisted
// only when the answer completes.
func (s *Service) Ask(ctx context.Context, site, question string, sink answer.Sink) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	s.mu.Lock()
	if _, ok := s.activeCrawls[site]; ok {
		s.mu.Unlock()
		return ErrCrawlActive
	}
	if s.answering[site] {
		s.mu.Unlock()
		return ErrBusy
	}
	s.answering[site] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.answering, site)
		s.mu.Unlock()
	}()

	bundle, err := s.sites.LoadBundle(ctx, site)
	if err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}
	if err := s.ensureHistory(ctx, site); err != nil {
		return err
	}
	opts, err := s.Options(ctx)
	if err != nil {
		return err
	}

	askErr := s.answerer.Ask(ctx, answer.Request{Site: site, Question: question, Bundle: bundle, Options: opts}, sink)

	turns := s.history.Get(site)
	ev := hermes.AnswerEvent{
		EventID:    hermes.NewEventID(),
		Site:       site,
		Outcome:    "done",
		HistoryLen: len(turns),
		Timestamp:  s.now().UTC(),
	}
	if askErr != nil {
		ev.Outcome = "error"
		if ctx.Err() != nil {
			ev.Outcome = "aborted"
		}
		ev.Error = askErr.Error()
		s.publish(hermes.SubjectAnswerCompleted, ev)
		return askErr
	}

	if len(turns) > 0 {
		ev.AnswerChars = len([]rune(turns[len(turns)-1].Content))
	}
	s.publish(hermes.SubjectAnswerCompleted, ev)

	if err := s.sites.SaveHistory(context.WithoutCancel(ctx), site, turns); err != nil {
		s.logger.Error("failed to persist history", "site", site, "error", err)
	}
	return nil
}

// History returns the site's conversation, oldest first.
func (s *Service) History(ctx context.Context, site string) ([]conversation.Turn, error) {
	if err := s.ensureHistory(ctx, site); err != nil {
		return nil, err
	}
	return s.history.Get(site), nil
}

// ResetHistory clears the site's conversation. It is rejected while an answer
// for the site is streaming.
func (s *Service) ResetHistory(ctx context.Context, site string) error {
	s.mu.Lock()
	busy := s.answering[site]
	s.mu.Unlock()
	if busy {
		return ErrBusy
	}

	s.history.Reset(site)
	if err := s.sites.ClearHistory(ctx, site); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	s.publish(hermes.SubjectHistoryReset, hermes.HistoryEvent{
		EventID:   hermes.NewEventID(),
		Site:      site,
		Reason:    "manual",
		Timestamp: s.now().UTC(),
	})
	return nil
}

// Options returns the base options overlaid with saved settings.
func (s *Service) Options(ctx context.Context) (config.Options, error) {
	saved, ok, err := s.sites.LoadOptions(ctx)
	if err != nil {
		return config.Options{}, fmt.Errorf("load settings: %w", err)
	}
	opts := s.base
	if ok {
		opts = opts.Merge(saved)
	}
	return opts.WithDefaults(), nil
}

// SaveOptions merges update into the saved settings. Fields left unset in
// update keep their saved value.
func (s *Service) SaveOptions(ctx context.Context, update config.Options) (config.Options, error) {
	saved, _, err := s.sites.LoadOptions(ctx)
	if err != nil {
		return config.Options{}, fmt.Errorf("load settings: %w", err)
	}
	merged := saved.Merge(update)
	if err := s.base.Merge(merged).WithDefaults().Validate(); err != nil {
		return config.Options{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if err := s.sites.SaveOptions(ctx, merged); err != nil {
		return config.Options{}, fmt.Errorf("save settings: %w", err)
	}
	return s.Options(ctx)
}

func (s *Service) ensureHistory(ctx context.Context, site string) error {
	if s.history.Has(site) {
		return nil
	}
	turns, err := s.sites.LoadHistory(ctx, site)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if !s.history.Has(site) {
		s.history.Load(site, turns)
	}
	return nil
}

func (s *Service) crawlEvent(rec store.CrawlRecord) hermes.CrawlEvent {
	return hermes.CrawlEvent{
		EventID:   hermes.NewEventID(),
		CrawlID:   rec.ID,
		Site:      rec.Site,
		URL:       rec.URL,
		Status:    rec.Status,
		Completed: rec.Completed,
		Total:     rec.Total,
		Pages:     rec.Pages,
		Error:     rec.Error,
		Timestamp: s.now().UTC(),
	}
}

func (s *Service) publish(subject string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func jobOf(rec store.CrawlRecord) Job {
	st := crawl.State{Status: crawl.Status(rec.Status), Completed: rec.Completed, Total: rec.Total}
	return Job{
		ID:        rec.ID,
		Site:      rec.Site,
		URL:       rec.URL,
		Status:    st.Status,
		Completed: rec.Completed,
		Total:     rec.Total,
		Progress:  st.Progress(),
		Pages:     rec.Pages,
		Error:     rec.Error,
	}
}
