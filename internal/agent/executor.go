package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/spritegate/internal/history"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/provider"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/tool"
	"github.com/sprite-ai/spritegate/pkg/types"
)

const (
	// defaultMaxSteps bounds agentic loop iterations.
	defaultMaxSteps = 50
	// historyContext is how many persisted messages seed the conversation.
	historyContext = 20

	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	maxRetries           = 3
)

// Executor runs chat messages through the agentic loop. It implements
// session.Executor.
type Executor struct {
	providers *provider.Registry
	history   *history.Store // nil disables conversation context
	profile   *Profile
	maxSteps  int
	tools     map[string]bool
	log       zerolog.Logger
}

// Config configures the executor.
type Config struct {
	Providers *provider.Registry
	History   *history.Store
	Profile   *Profile
	// MaxSteps overrides the profile's loop bound when positive.
	MaxSteps int
	// Tools are configuration-level tool toggles, applied on top of the
	// profile's.
	Tools map[string]bool
}

// New creates an executor.
func New(cfg Config) *Executor {
	profile := cfg.Profile
	if profile == nil {
		profile = DefaultProfile()
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = profile.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	return &Executor{
		providers: cfg.Providers,
		history:   cfg.History,
		profile:   profile,
		maxSteps:  maxSteps,
		tools:     cfg.Tools,
		log:       logging.Component("agent"),
	}
}

// newRetryBackoff builds the jittered exponential backoff used around LLM
// calls.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Execute implements session.Executor.
func (e *Executor) Execute(ctx context.Context, job session.Job, events session.StreamEvents) (string, error) {
	prov, model, err := e.resolveModel()
	if err != nil {
		return "", err
	}

	workDir := job.WorkspaceDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	tools := e.buildTools(workDir)

	messages := e.seedMessages(job)

	var toolInfos []*schema.ToolInfo
	if model.SupportsTools {
		toolInfos = tools.ToolInfos()
	}

	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var finalText strings.Builder
	retry := newRetryBackoff(ctx)

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if step >= e.maxSteps {
			return "", fmt.Errorf("agent loop exceeded %d steps", e.maxSteps)
		}

		stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
			Model:       model.ID,
			Messages:    messages,
			Tools:       toolInfos,
			MaxTokens:   maxTokens,
			Temperature: e.profile.Temperature,
		})
		if err != nil {
			if wait := retry.NextBackOff(); wait != backoff.Stop {
				e.log.Warn().Err(err).Str("user", job.UserKey).Msg("completion failed, retrying")
				time.Sleep(wait)
				continue
			}
			return "", fmt.Errorf("completion: %w", err)
		}

		turn, err := e.consumeStream(ctx, stream, events)
		stream.Close()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if wait := retry.NextBackOff(); wait != backoff.Stop {
				e.log.Warn().Err(err).Str("user", job.UserKey).Msg("stream failed, retrying")
				time.Sleep(wait)
				continue
			}
			return "", fmt.Errorf("stream: %w", err)
		}
		retry.Reset()

		if turn.content != "" {
			if finalText.Len() > 0 {
				finalText.WriteString("\n")
			}
			finalText.WriteString(turn.content)
		}

		if len(turn.toolCalls) == 0 {
			return finalText.String(), nil
		}

		// The model asked for tools: record its turn, run the calls, feed
		// the results back, and go around again.
		messages = append(messages, &schema.Message{
			Role:      schema.Assistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		})
		for _, tc := range turn.toolCalls {
			result := e.runTool(ctx, tools, workDir, job, tc, events)
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
}

// resolveModel picks the provider and model from the profile, falling back
// to the registry default.
func (e *Executor) resolveModel() (provider.Provider, *types.Model, error) {
	if e.profile.Model != "" {
		providerID, modelID := provider.ParseModelString(e.profile.Model)
		model, err := e.providers.GetModel(providerID, modelID)
		if err == nil {
			prov, err := e.providers.Get(providerID)
			if err == nil {
				return prov, model, nil
			}
		}
		e.log.Warn().Str("model", e.profile.Model).Msg("profile model unavailable, using default")
	}

	model, err := e.providers.DefaultModel()
	if err != nil {
		return nil, nil, fmt.Errorf("no usable model: %w", err)
	}
	prov, err := e.providers.Get(model.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return prov, model, nil
}

// buildTools builds the workspace-rooted tool registry, honoring both the
// profile's toggles and the configuration's.
func (e *Executor) buildTools(workDir string) *tool.Registry {
	enabled := make(map[string]bool)
	for id, on := range e.tools {
		enabled[id] = on
	}
	for _, id := range []string{"read", "write", "list", "bash", "webfetch"} {
		if !e.profile.ToolEnabled(id) {
			enabled[id] = false
		}
	}
	return tool.DefaultRegistry(workDir, enabled)
}

// seedMessages builds the initial message list: system prompt, recent
// conversation history, then the incoming user message.
func (e *Executor) seedMessages(job session.Job) []*schema.Message {
	messages := []*schema.Message{{
		Role:    schema.System,
		Content: e.profile.SystemPrompt(job.SpriteName, job.WorkspaceDir),
	}}

	if e.history != nil {
		past, err := e.history.Recent(job.UserKey, historyContext)
		if err != nil {
			e.log.Warn().Err(err).Str("user", job.UserKey).Msg("history context unavailable")
		}
		for _, msg := range past {
			role := schema.Assistant
			if msg.Role == "user" {
				role = schema.User
			}
			messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
		}
	}

	return append(messages, &schema.Message{Role: schema.User, Content: job.Content})
}

// runTool executes one tool call and streams its lifecycle.
func (e *Executor) runTool(ctx context.Context, tools *tool.Registry, workDir string, job session.Job, tc schema.ToolCall, events session.StreamEvents) string {
	var input map[string]any
	if tc.Function.Arguments != "" {
		json.Unmarshal([]byte(tc.Function.Arguments), &input)
	}
	if events.OnToolUse != nil {
		events.OnToolUse(tc.ID, tc.Function.Name, input)
	}

	emit := func(content string, isError bool) string {
		if events.OnToolResult != nil {
			events.OnToolResult(tc.ID, content, isError)
		}
		return content
	}

	t, ok := tools.Get(tc.Function.Name)
	if !ok {
		return emit(fmt.Sprintf("Error: unknown tool %q", tc.Function.Name), true)
	}

	result, err := t.Execute(ctx, json.RawMessage(tc.Function.Arguments), &tool.Context{
		UserKey:   job.UserKey,
		MessageID: job.MessageID,
		CallID:    tc.ID,
		WorkDir:   workDir,
		AbortCh:   ctx.Done(),
	})
	if err != nil {
		return emit("Error: "+err.Error(), true)
	}
	return emit(result.Output, false)
}

// streamTurn is one model turn read off the stream.
type streamTurn struct {
	content   string
	toolCalls []schema.ToolCall
	finish    string
}

// consumeStream drains one completion stream, emitting text deltas as they
// arrive and accumulating any tool calls.
func (e *Executor) consumeStream(ctx context.Context, stream *provider.CompletionStream, events session.StreamEvents) (*streamTurn, error) {
	turn := &streamTurn{}

	var content string
	calls := make(map[string]*schema.ToolCall)
	var callOrder []string

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if msg.Content != "" {
			// Providers differ: some chunks carry cumulative content, some
			// carry deltas. A chunk extending what we have is cumulative.
			var delta string
			if strings.HasPrefix(msg.Content, content) && len(msg.Content) > len(content) {
				delta = msg.Content[len(content):]
				content = msg.Content
			} else if msg.Content != content {
				delta = msg.Content
				content += delta
			}
			if delta != "" && events.OnText != nil {
				events.OnText(delta)
			}
		}

		for _, tc := range msg.ToolCalls {
			id := tc.ID
			if id == "" {
				id = ulid.Make().String()
			}
			call, ok := calls[id]
			if !ok {
				call = &schema.ToolCall{ID: id}
				calls[id] = call
				callOrder = append(callOrder, id)
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			if args := tc.Function.Arguments; args != "" {
				if strings.HasPrefix(args, call.Function.Arguments) {
					call.Function.Arguments = args
				} else {
					call.Function.Arguments += args
				}
			}
		}

		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			turn.finish = msg.ResponseMeta.FinishReason
		}
	}

	turn.content = content
	for _, id := range callOrder {
		turn.toolCalls = append(turn.toolCalls, *calls[id])
	}
	return turn, nil
}
