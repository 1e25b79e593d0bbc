// Package answer runs one question/answer exchange against a streaming chat
// model, using a site's crawled content and prior conversation as context.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
	"github.com/MikeSquared-Agency/sitechat/internal/metrics"
	"github.com/MikeSquared-Agency/sitechat/internal/openai"
	"github.com/MikeSquared-Agency/sitechat/internal/stream"
)

// Sink receives the events of one answer: zero or more OnDelta calls
// followed by exactly one of OnDone or OnError.
type Sink interface {
	OnDelta(text string)
	OnDone()
	OnError(message string)
}

// Streamer opens a streaming chat completion.
type Streamer interface {
	StreamChat(ctx context.Context, apiKey string, req openai.ChatRequest) (io.ReadCloser, error)
}

// History is the conversation state an answer reads and extends.
type History interface {
	Get(site string) []conversation.Turn
	AppendPair(site, question, answer string)
}

type Request struct {
	Site     string
	Question string
	Bundle   domain.Bundle
	Options  config.Options
}

type Session struct {
	llm     Streamer
	history History
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(llm Streamer, history History, m *metrics.Metrics, logger *slog.Logger) *Session {
	return &Session{
		llm:     llm,
		history: history,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Ask streams the answer to req.Question into sink. On success the
// question/answer pair is appended to the site's history; on any failure,
// including cancellation of ctx, history is left untouched. The returned
// error is the one reported through sink.OnError.
func (s *Session) Ask(ctx context.Context, req Request, sink Sink) error {
	started := s.now()
	res, err := s.ask(ctx, req, sink)

	outcome := "done"
	switch {
	case err == nil:
		sink.OnDone()
	case ctx.Err() != nil:
		outcome = "aborted"
		sink.OnError(err.Error())
	default:
		outcome = "error"
		sink.OnError(err.Error())
	}
	s.metrics.AnswerFinished(outcome, s.now().Sub(started), res.deltas, res.parseErrors)

	if err != nil {
		s.logger.Warn("answer failed", "site", req.Site, "outcome", outcome, "error", err)
		return err
	}
	s.logger.Info("answer complete", "site", req.Site, "deltas", res.deltas, "answer_len", res.answerLen)
	return nil
}

type result struct {
	deltas      int
	parseErrors int
	answerLen   int
}

func (s *Session) ask(ctx context.Context, req Request, sink Sink) (result, error) {
	var res result

	if len(req.Bundle) == 0 {
		return res, domain.Missing("content", "No crawl data available. Please start the crawl first.")
	}
	if req.Options.ModelCredential == "" {
		return res, domain.Missing("modelCredential", "OpenAI API key not set. Please set it in the settings.")
	}
	opts := req.Options.WithDefaults()

	chat := openai.ChatRequest{
		Model:       opts.Model,
		Messages:    s.buildMessages(req, opts.MaxContentLengthChars),
		Stream:      true,
		Temperature: temperature,
	}

	s.logger.Info("asking model",
		"site", req.Site,
		"model", opts.Model,
		"pages", len(req.Bundle),
		"messages", len(chat.Messages),
	)

	body, err := s.llm.StreamChat(ctx, opts.ModelCredential, chat)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return res, domain.Wrap(domain.KindTransportError, apiErr.Message, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, domain.Wrap(domain.KindTransportError, "", fmt.Errorf("start stream: %w", err))
	}
	defer body.Close()

	var answer strings.Builder
	decoder := stream.NewReassembler(s.logger)
	err = decoder.Decode(ctx, body, func(f stream.Frame) error {
		if f.Done {
			return nil
		}
		res.deltas++
		answer.WriteString(f.Delta)
		sink.OnDelta(f.Delta)
		return nil
	})
	res.parseErrors = decoder.ParseErrors()
	if err != nil {
		return res, err
	}

	res.answerLen = answer.Len()
	s.history.AppendPair(req.Site, req.Question, answer.String())
	return res, nil
}

// buildMessages lays out system context, site content, prior turns and the
// new question, in that order.
func (s *Session) buildMessages(req Request, budget int) []openai.Message {
	prior := s.history.Get(req.Site)
	messages := make([]openai.Message, 0, len(prior)+3)

	messages = append(messages,
		openai.Message{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, s.now().Format(dateLayout))},
		openai.Message{Role: "user", Content: siteContentPrefix + BuildSiteContent(req.Bundle, budget)},
	)
	for _, t := range prior {
		messages = append(messages, openai.Message{Role: string(t.Role), Content: t.Content})
	}
	return append(messages, openai.Message{Role: "user", Content: req.Question})
}
