package llamaclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// streamChunk is one llama-server SSE data payload.
type streamChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Stream yields completion chunks in arrival order. Recv returns io.EOF
// after the final chunk; Close releases the connection and may be called
// at any point, including mid-stream.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	baseURL string
	body    io.ReadCloser
	r       *bufio.Reader
	done    bool
}

func newStream(ctx context.Context, cancel context.CancelFunc, baseURL string, body io.ReadCloser) *Stream {
	return &Stream{ctx: ctx, cancel: cancel, baseURL: baseURL, body: body, r: bufio.NewReader(body)}
}

// Recv returns the next non-empty text chunk. Lines that are not valid SSE
// data payloads are skipped rather than failing the whole stream.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" {
			data, ok := strings.CutPrefix(l, "data: ")
			if !ok {
				data, ok = strings.CutPrefix(l, "data:")
			}
			if ok {
				var chunk streamChunk
				if jerr := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); jerr == nil {
					if chunk.Stop {
						s.done = true
						if chunk.Content != "" {
							return chunk.Content, nil
						}
						return "", io.EOF
					}
					if chunk.Content != "" {
						return chunk.Content, nil
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return "", io.EOF
			}
			return "", s.classifyRead(err)
		}
	}
}

// Close releases the underlying connection and the per-request deadline.
// Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

func (s *Stream) classifyRead(err error) error {
	if s.ctx.Err() == context.Canceled {
		return context.Canceled
	}
	if s.ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout(s.baseURL)
	}
	return ErrConnectionRefused(s.baseURL, err)
}
