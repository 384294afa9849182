package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

type Provider interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Stream, error)
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Options tunes a single completion. Zero values defer to the provider.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Chunk is one decoded stream event. ID and Usage arrive on whichever event
// the provider chooses to attach them to; Usage usually comes last.
type Chunk struct {
	ID      string
	Content string
	Usage   *Usage
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a fully drained stream.
type Completion struct {
	ID      string
	Content string
	Usage   Usage
}

// Collect drains a completion stream into a single Completion.
func Collect(ctx context.Context, provider Provider, messages []Message, opts Options) (Completion, error) {
	stream, err := provider.Complete(ctx, messages, opts)
	if err != nil {
		return Completion{}, err
	}
	defer stream.Close()

	var out Completion
	var content strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return Completion{}, recvErr
		}
		if chunk.ID != "" && out.ID == "" {
			out.ID = chunk.ID
		}
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		content.WriteString(chunk.Content)
	}
	out.Content = strings.TrimSpace(content.String())
	return out, nil
}

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) Stream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && chunk.ID == "" && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
