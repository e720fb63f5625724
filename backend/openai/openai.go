// Package openai implements toolloop.Service for OpenAI-compatible chat completion gateways.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tgsearchbot/toolloop"
)

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for every gateway.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithDefaults sets the backend used when a request carries no gateway or key.
func WithDefaults(cfg toolloop.BackendConfig) Option {
	return func(s *Service) {
		s.defaults = cfg
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service talks to the gateway named by each request's BackendConfig.
type Service struct {
	httpClient *http.Client
	defaults   toolloop.BackendConfig
	logger     *slog.Logger
}

var _ toolloop.Service = (*Service)(nil)

// New returns a Service.
func New(opts ...Option) *Service {
	s := &Service{httpClient: http.DefaultClient, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) client(cfg toolloop.BackendConfig) *goopenai.Client {
	key := cfg.APIKey
	if key == "" {
		key = s.defaults.APIKey
	}
	c := goopenai.DefaultConfig(key)
	gateway := cfg.Gateway
	if gateway == "" {
		gateway = s.defaults.Gateway
	}
	if gateway != "" {
		c.BaseURL = strings.TrimRight(gateway, "/")
	}
	if org := cfg.Extra["organization"]; org != "" {
		c.OrgID = org
	}
	c.HTTPClient = s.httpClient
	return goopenai.NewClientWithConfig(c)
}

// Execute sends req as a single chat completion.
func (s *Service) Execute(ctx context.Context, req toolloop.Request) (toolloop.Response, error) {
	resp, err := s.client(req.Backend).CreateChatCompletion(ctx, chatRequest(req))
	if err != nil {
		if ctx.Err() != nil {
			return toolloop.Response{}, ctx.Err()
		}
		s.logger.WarnContext(ctx, "chat completion failed", "request_id", req.RequestID, "model", req.Model, "error", err)
		return toolloop.FailureResponse(req, describe(err)), nil
	}
	if len(resp.Choices) == 0 {
		return toolloop.FailureResponse(req, "no choices in response"), nil
	}
	return toolloop.SuccessResponse(req, resp.Choices[0].Message.Content), nil
}

// ExecuteStream streams the completion token by token. Gateway failures resolve the
// stream with a failed Response.
func (s *Service) ExecuteStream(ctx context.Context, req toolloop.Request) (*toolloop.Stream, error) {
	cr := chatRequest(req)
	cr.Stream = true
	upstream, err := s.client(req.Backend).CreateChatCompletionStream(ctx, cr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WarnContext(ctx, "chat stream failed", "request_id", req.RequestID, "model", req.Model, "error", err)
		return toolloop.StreamText(ctx, req, toolloop.FailureResponse(req, describe(err))), nil
	}

	out := make(chan string)
	stream, resolve := toolloop.NewStream(req, out)
	go func() {
		defer upstream.Close()
		var text strings.Builder
		failure, err := relay(ctx, upstream, out, &text)
		close(out)
		switch {
		case err != nil:
			resolve(toolloop.Response{}, err)
		case failure != "":
			s.logger.WarnContext(ctx, "chat stream interrupted", "request_id", req.RequestID, "error", failure)
			resolve(toolloop.FailureResponse(req, failure), nil)
		default:
			resolve(toolloop.SuccessResponse(req, text.String()), nil)
		}
	}()
	return stream, nil
}

// relay copies deltas to out. It returns a failure message for gateway errors and an
// error only for cancellation.
func relay(ctx context.Context, upstream *goopenai.ChatCompletionStream, out chan<- string, text *strings.Builder) (string, error) {
	for {
		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return describe(err), nil
		}
		for _, choice := range chunk.Choices {
			tok := choice.Delta.Content
			if tok == "" {
				continue
			}
			text.WriteString(tok)
			select {
			case out <- tok:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
}

// Embed returns the embedding vector of text.
func (s *Service) Embed(ctx context.Context, text, model string, cfg toolloop.BackendConfig) ([]float32, error) {
	resp, err := s.client(cfg).CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// ListModels returns the model ids the gateway offers.
func (s *Service) ListModels(ctx context.Context, cfg toolloop.BackendConfig) ([]string, error) {
	list, err := s.client(cfg).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// HealthCheck reports whether the gateway answers a model listing.
func (s *Service) HealthCheck(ctx context.Context, cfg toolloop.BackendConfig) (bool, error) {
	if _, err := s.ListModels(ctx, cfg); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.DebugContext(ctx, "health check failed", "gateway", cfg.Gateway, "error", err)
		return false, nil
	}
	return true, nil
}

func chatRequest(req toolloop.Request) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		msgs = append(msgs, message(m))
	}
	return goopenai.ChatCompletionRequest{Model: req.Model, Messages: msgs}
}

func message(m toolloop.Message) goopenai.ChatCompletionMessage {
	role := string(m.Role)
	if len(m.Attachments) == 0 {
		return goopenai.ChatCompletionMessage{Role: role, Content: m.Text}
	}
	parts := make([]goopenai.ChatMessagePart, 0, len(m.Attachments)+1)
	if m.Text != "" {
		parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: m.Text})
	}
	for _, a := range m.Attachments {
		switch {
		case a.Kind == toolloop.ContentImage && a.Image != nil:
			parts = append(parts, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: a.Image.DataURL(), Detail: goopenai.ImageURLDetailAuto},
			})
		case a.Kind == toolloop.ContentText:
			parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: a.Text})
		}
	}
	return goopenai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// describe turns a client error into the message carried by a failed Response.
func describe(err error) string {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("gateway error (HTTP %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("gateway error (HTTP %d): %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}
