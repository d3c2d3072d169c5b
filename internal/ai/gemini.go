package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"roam/internal/modules/tools"
)

const (
	DefaultModel      = "gemini-2.0-flash"
	DefaultToolRounds = 4
)

type GeminiConfig struct {
	APIKey string
	Model  string
	// CacheTTL > 0 stores the static tier as Gemini cached content.
	CacheTTL   time.Duration
	ToolRounds int
}

// GeminiExtractor implements Extractor with a Gemini chat session and function calling.
type GeminiExtractor struct {
	client   *genai.Client
	cfg      GeminiConfig
	registry *tools.Registry
	log      *zap.Logger
}

// NewGeminiExtractor initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig, registry *tools.Registry, log *zap.Logger) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ToolRounds <= 0 {
		cfg.ToolRounds = DefaultToolRounds
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiExtractor{client: client, cfg: cfg, registry: registry, log: log}, nil
}

// Close cleans up the Gemini client resources.
func (g *GeminiExtractor) Close() {
	g.client.Close()
}

func (g *GeminiExtractor) Extract(ctx context.Context, req ExtractRequest) (Extraction, error) {
	handle := g.cachedHandle(ctx, req)
	raw, err := g.run(ctx, req, handle)
	if err != nil && handle != "" && ctx.Err() == nil {
		// The cached content may have expired; retry with the static tier inline.
		g.log.Warn("gemini cached content failed, retrying inline",
			zap.String("conversation_id", req.ConversationID.String()), zap.String("handle", handle), zap.Error(err))
		handle = ""
		raw, err = g.run(ctx, req, "")
	}
	if err != nil {
		return Extraction{}, err
	}
	return Extraction{Raw: raw, Handle: handle}, nil
}

// cachedHandle returns the known handle, or tries to create one. Small prompts are below
// Gemini's caching minimum, so creation failures are expected and only logged.
func (g *GeminiExtractor) cachedHandle(ctx context.Context, req ExtractRequest) string {
	if req.Static.Handle != "" || g.cfg.CacheTTL <= 0 {
		return req.Static.Handle
	}
	cc, err := g.client.CreateCachedContent(ctx, &genai.CachedContent{
		Model:             g.cfg.Model,
		SystemInstruction: genai.NewUserContent(genai.Text(req.Static.Text)),
		Tools:             g.declarations(),
		Expiration:        genai.ExpireTimeOrTTL{TTL: g.cfg.CacheTTL},
	})
	if err != nil {
		g.log.Debug("gemini cached content unavailable", zap.Error(err))
		return ""
	}
	return cc.Name
}

func (g *GeminiExtractor) declarations() []*genai.Tool {
	if g.registry == nil {
		return nil
	}
	return FunctionDeclarations(g.registry.Contracts())
}

func (g *GeminiExtractor) model(req ExtractRequest, handle string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.cfg.Model)
	// Low temperature keeps field extraction stable across retries.
	model.SetTemperature(0.2)
	if handle != "" {
		model.CachedContentName = handle
	} else {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.Static.Text))
		model.Tools = g.declarations()
	}
	if len(model.Tools) == 0 && handle == "" {
		// JSON mode cannot be combined with function calling.
		model.ResponseMIMEType = "application/json"
	} else {
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAuto},
		}
	}
	return model
}

func (g *GeminiExtractor) run(ctx context.Context, req ExtractRequest, handle string) ([]byte, error) {
	cs := g.model(req, handle).StartChat()
	cs.History = History(req.History)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Dynamic), genai.Text("Traveler: "+req.Message))
	for round := 0; ; round++ {
		if err != nil {
			return nil, fmt.Errorf("gemini generation error: %w", err)
		}
		calls := functionCalls(resp)
		if len(calls) == 0 {
			break
		}
		if round >= g.cfg.ToolRounds || g.registry == nil {
			return nil, fmt.Errorf("%w: %d", ErrToolLoop, round)
		}
		parts := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			out, callErr := g.registry.Call(ctx, req.Workspace, call.Name, call.Args)
			parts = append(parts, functionResponse(call.Name, out, callErr))
		}
		resp, err = cs.SendMessage(ctx, parts...)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}
