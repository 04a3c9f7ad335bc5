package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the model replies with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Service is the text-only surface used by components that prompt the model
// without tools: the failure-pattern analyzer and the instruction generator.
//
//	type Analyzer struct {
//	    svc *llm.Service
//	}
//
//	var out Suggestions
//	err := a.svc.GenerateJSON(ctx, system, prompt, &out)
type Service struct {
	client Client
}

// NewService wraps client.
func NewService(client Client) *Service {
	return &Service{client: client}
}

// Client returns the underlying completion client.
func (s *Service) Client() Client {
	return s.client
}

// Generate sends a single user prompt and returns the reply text.
func (s *Service) Generate(ctx context.Context, system, prompt string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("model client is not configured")
	}

	resp, err := s.client.Complete(ctx, Request{
		System:   system,
		Messages: []Message{UserText(prompt)},
	})
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(resp.Text)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// GenerateJSON is Generate followed by DecodeJSON into result. On a decode
// failure the raw reply is returned alongside the error so callers can keep it.
func (s *Service) GenerateJSON(ctx context.Context, system, prompt string, result interface{}) (string, error) {
	content, err := s.Generate(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(content, result); err != nil {
		return content, err
	}
	return content, nil
}
