// Package stream decodes the line-oriented event stream returned by chat
// completion endpoints when streaming is enabled.
//
// Network reads arrive at arbitrary byte boundaries, so a Reassembler keeps a
// single pending buffer holding the incomplete tail of the last chunk and only
// interprets a line once its terminating newline has been seen.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

const (
	dataPrefix = "data: "
	doneToken  = "[DONE]"
	deltaPath  = "choices.0.delta.content"

	readSize = 4096
)

// Frame is one decoded unit of the stream: a content delta or the terminal marker.
type Frame struct {
	Delta string
	Done  bool
}

// lineResult is the outcome of interpreting one complete line.
type lineResult struct {
	frame Frame
	emit  bool
	err   error
}

// Reassembler turns raw chunks into frames. It is not safe for concurrent use
// and is not restartable: after the terminal frame all input is ignored.
type Reassembler struct {
	pending     []byte
	done        bool
	parseErrors int
	logger      *slog.Logger
}

func NewReassembler(logger *slog.Logger) *Reassembler {
	return &Reassembler{logger: logger}
}

// Feed appends a chunk and returns the frames completed by it, in order.
func (r *Reassembler) Feed(chunk []byte) []Frame {
	if r.done {
		return nil
	}
	r.pending = append(r.pending, chunk...)

	var frames []Frame
	start := 0
	for {
		i := bytes.IndexByte(r.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := string(r.pending[start : start+i])
		start += i + 1

		res := parseLine(line)
		if res.err != nil {
			r.parseErrors++
			r.logger.Debug("skipping unparseable stream line", "error", res.err)
			continue
		}
		if !res.emit {
			continue
		}
		frames = append(frames, res.frame)
		if res.frame.Done {
			r.done = true
			r.pending = nil
			return frames
		}
	}

	r.pending = append(r.pending[:0], r.pending[start:]...)
	return frames
}

// Close signals end of the transport stream. It returns the terminal frame
// unless one was already produced. An unterminated trailing line is dropped.
func (r *Reassembler) Close() []Frame {
	if r.done {
		return nil
	}
	if len(r.pending) > 0 {
		r.logger.Debug("discarding incomplete trailing line", "bytes", len(r.pending))
	}
	r.pending = nil
	r.done = true
	return []Frame{{Done: true}}
}

// Done reports whether the terminal frame has been produced.
func (r *Reassembler) Done() bool { return r.done }

// ParseErrors is the number of lines skipped because they did not parse.
func (r *Reassembler) ParseErrors() int { return r.parseErrors }

// Decode reads body until the terminal frame, handing each frame to fn.
// Read failures are returned as StreamTransportError; context cancellation
// stops delivery before the next frame and returns the context error.
func (r *Reassembler) Decode(ctx context.Context, body io.Reader, fn func(Frame) error) error {
	buf := make([]byte, readSize)
	deliver := func(frames []Frame) (bool, error) {
		for _, f := range frames {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if err := fn(f); err != nil {
				return false, err
			}
			if f.Done {
				return true, nil
			}
		}
		return false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if finished, err := deliver(r.Feed(buf[:n])); finished || err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			_, err := deliver(r.Close())
			return err
		}
		if readErr != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			return domain.Wrap(domain.KindStreamTransportError, "", fmt.Errorf("read stream: %w", readErr))
		}
	}
}

func parseLine(line string) lineResult {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return lineResult{}
	}

	payload := strings.TrimPrefix(line, dataPrefix)
	if payload == doneToken {
		return lineResult{frame: Frame{Done: true}, emit: true}
	}
	if !gjson.Valid(payload) {
		return lineResult{err: domain.Wrap(domain.KindStreamParseError, "", fmt.Errorf("invalid json %.80q", payload))}
	}

	content := gjson.Get(payload, deltaPath)
	if content.Type != gjson.String || content.Str == "" {
		return lineResult{}
	}
	return lineResult{frame: Frame{Delta: content.Str}, emit: true}
}
