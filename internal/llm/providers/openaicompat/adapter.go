package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/safespace/narratives/internal/llm"
)

const instrumentationName = "github.com/safespace/narratives/internal/llm/providers/openaicompat"

// startSpan opens a client span for one upstream completion call.
func (a *Adapter) startSpan(ctx context.Context, req llm.Request, stream bool) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "chat.completions",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("llm.provider", a.cfg.Provider),
			attribute.String("llm.model", req.Model),
			attribute.Bool("llm.stream", stream),
		))
}

func recordSpanError(span oteltrace.Span, err error) {
	if err == nil || llm.IsCancelled(err) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Path         string
	ExtraHeaders map[string]string
}

// Adapter speaks the OpenAI chat.completions protocol, which OpenRouter
// and most hosted completion services accept.
type Adapter struct {
	cfg    Config
	client *http.Client
}

const defaultRequestTimeout = 10 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "openrouter"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/chat/completions"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

// withDefaultRequestDeadline caps requests that carry no deadline of
// their own. A stricter caller deadline wins.
func withDefaultRequestDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}

func (a *Adapter) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, llm.WrapContextError(a.cfg.Provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	requestCtx, cancel := withDefaultRequestDeadline(ctx)
	defer cancel()
	requestCtx, span := a.startSpan(requestCtx, req, false)
	defer span.End()

	body, err := json.Marshal(toChatCompletionsBody(req, false))
	if err != nil {
		err = llm.WrapContextError(a.cfg.Provider, err)
		recordSpanError(span, err)
		return llm.Response{}, err
	}
	httpReq, err := a.newHTTPRequest(requestCtx, body)
	if err != nil {
		recordSpanError(span, err)
		return llm.Response{}, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		err = llm.WrapContextError(a.cfg.Provider, err)
		recordSpanError(span, err)
		return llm.Response{}, err
	}
	defer resp.Body.Close()

	out, err := parseChatCompletionsResponse(a.cfg.Provider, req.Model, resp)
	if err != nil {
		recordSpanError(span, err)
		return llm.Response{}, err
	}
	span.SetAttributes(attribute.Int("llm.total_tokens", out.Usage.TotalTokens))
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	baseCtx, baseCancel := withDefaultRequestDeadline(ctx)
	sctx, cancel := context.WithCancel(baseCtx)
	cancelAll := func() {
		cancel()
		baseCancel()
	}
	sctx, span := a.startSpan(sctx, req, true)

	fail := func(err error) (llm.Stream, error) {
		recordSpanError(span, err)
		span.End()
		cancelAll()
		return nil, err
	}

	body, err := json.Marshal(toChatCompletionsBody(req, true))
	if err != nil {
		return fail(llm.WrapContextError(a.cfg.Provider, err))
	}
	httpReq, err := a.newHTTPRequest(sctx, body)
	if err != nil {
		return fail(err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fail(llm.WrapContextError(a.cfg.Provider, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		_, perr := parseChatCompletionsResponse(a.cfg.Provider, req.Model, resp)
		return fail(perr)
	}

	s := llm.NewChanStream(cancelAll)
	go func() {
		// The span covers the whole streamed exchange, first byte to last.
		defer span.End()
		defer cancelAll()
		defer resp.Body.Close()
		defer s.CloseSend()

		s.Send(llm.StreamEvent{Type: llm.StreamEventStreamStart})
		state := &chatStreamState{Provider: a.cfg.Provider, Model: req.Model}

		err := llm.ParseSSE(sctx, resp.Body, func(ev llm.SSEEvent) error {
			payload := strings.TrimSpace(string(ev.Data))
			if payload == "" {
				return nil
			}
			if payload == "[DONE]" {
				final := state.FinalResponse()
				s.Send(llm.StreamEvent{Type: llm.StreamEventFinish, Response: &final})
				state.Finished = true
				return nil
			}
			var chunk chatCompletionsChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				return err
			}
			if chunk.Error != nil {
				return errors.New(chunk.Error.Message)
			}
			state.apply(s, chunk)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			streamErr := llm.NewStreamError(a.cfg.Provider, err.Error())
			recordSpanError(span, streamErr)
			s.Send(llm.StreamEvent{
				Type: llm.StreamEventError,
				Err:  streamErr,
			})
			return
		}
		// Some backends close the stream without a [DONE] sentinel.
		if err == nil && !state.Finished {
			final := state.FinalResponse()
			s.Send(llm.StreamEvent{Type: llm.StreamEventFinish, Response: &final})
		}
		span.SetAttributes(attribute.Int("llm.total_tokens", state.Usage.TotalTokens))
	}()
	return s, nil
}

type chatCompletionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toChatCompletionsBody(req llm.Request, stream bool) map[string]any {
	msgs := make([]chatCompletionsMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatCompletionsMessage{Role: string(m.Role), Content: m.Content})
	}
	body := map[string]any{
		"model":       req.Model,
		"messages":    msgs,
		"temperature": req.Temperature,
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body
}

type chatCompletionsChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseChatCompletionsResponse(provider, model string, resp *http.Response) (llm.Response, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return llm.Response{}, llm.WrapContextError(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "chat.completions failed"
		var raw map[string]any
		if err := json.Unmarshal(rawBytes, &raw); err != nil {
			raw = map[string]any{"raw_body": string(rawBytes)}
		} else if em, ok := raw["error"].(map[string]any); ok {
			if s, ok := em["message"].(string); ok && strings.TrimSpace(s) != "" {
				msg = s
			}
		}
		return llm.Response{}, llm.ErrorFromHTTPStatus(provider, resp.StatusCode, msg, raw)
	}

	var parsed chatCompletionsChunk
	if err := json.Unmarshal(rawBytes, &parsed); err != nil {
		return llm.Response{}, llm.WrapContextError(provider, err)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, llm.NewStreamError(provider, "chat.completions response missing choices")
	}
	choice := parsed.Choices[0]
	out := llm.Response{
		ID:       parsed.ID,
		Model:    firstNonEmpty(model, parsed.Model),
		Provider: provider,
		Message:  llm.Assistant(choice.Message.Content),
		Finish:   normalizeFinishReason(choice.FinishReason),
	}
	if parsed.Usage != nil {
		out.Usage = llm.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

type chatStreamState struct {
	Provider string
	Model    string

	Text     strings.Builder
	Finish   string
	Usage    llm.Usage
	Finished bool
}

func (st *chatStreamState) apply(s *llm.ChanStream, chunk chatCompletionsChunk) {
	if chunk.Usage != nil {
		st.Usage = llm.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if delta := choice.Delta.Content; delta != "" {
		st.Text.WriteString(delta)
		s.Send(llm.StreamEvent{Type: llm.StreamEventTextDelta, Delta: delta})
	}
	if fin := strings.TrimSpace(choice.FinishReason); fin != "" {
		st.Finish = normalizeFinishReason(fin)
	}
}

func (st *chatStreamState) FinalResponse() llm.Response {
	finish := st.Finish
	if finish == "" {
		finish = "stop"
	}
	return llm.Response{
		Provider: st.Provider,
		Model:    st.Model,
		Message:  llm.Assistant(st.Text.String()),
		Finish:   finish,
		Usage:    st.Usage,
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return strings.TrimSpace(b)
}

func normalizeFinishReason(in string) string {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "length":
		return "max_tokens"
	default:
		return strings.ToLower(strings.TrimSpace(in))
	}
}
