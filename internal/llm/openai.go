package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/policy"
)

// OpenAIOracle asks a chat-completions model for a schema-constrained verdict.
type OpenAIOracle struct {
	apiKey   string
	model    string
	baseURL  string
	timeout  time.Duration
	maxLinks int
	http     *http.Client
	log      *zap.Logger

	mu     sync.Mutex
	client *openai.Client
}

// OpenAIOptions configures an OpenAIOracle. Zero values take defaults.
type OpenAIOptions struct {
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxLinks   int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewOpenAIOracle(apiKey string, opts OpenAIOptions) *OpenAIOracle {
	o := &OpenAIOracle{
		apiKey:   strings.TrimSpace(apiKey),
		model:    strings.TrimSpace(opts.Model),
		baseURL:  strings.TrimSpace(opts.BaseURL),
		timeout:  opts.Timeout,
		maxLinks: opts.MaxLinks,
		http:     opts.HTTPClient,
		log:      opts.Logger,
	}
	if o.model == "" {
		o.model = openai.GPT4oMini
	}
	if o.timeout <= 0 {
		o.timeout = 20 * time.Second
	}
	if o.maxLinks <= 0 {
		o.maxLinks = DefaultMaxLinks
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}

func (p *OpenAIOracle) ensureClient() (*openai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if p.client == nil {
		cfg := openai.DefaultConfig(p.apiKey)
		if p.baseURL != "" {
			cfg.BaseURL = p.baseURL
		}
		if p.http != nil {
			cfg.HTTPClient = p.http
		}
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p.client, nil
}

// SetAPIKey swaps the key; the next Judge builds a fresh client.
func (p *OpenAIOracle) SetAPIKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKey = strings.TrimSpace(key)
	p.client = nil
}

// SetModel switches the model for later calls. Blank keeps the current one.
func (p *OpenAIOracle) SetModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// Model reports the model the next call will use.
func (p *OpenAIOracle) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Judge implements Oracle.
func (p *OpenAIOracle) Judge(ctx context.Context, req Request) (Verdict, error) {
	if err := validateRequest(req); err != nil {
		return Verdict{}, err
	}
	client, err := p.ensureClient()
	if err != nil {
		return Verdict{}, errors.Wrap(ErrOracleUnavailable, err.Error())
	}
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, _ := json.Marshal(req)
	started := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Role, p.maxLinks)},
			{Role: openai.ChatMessageRoleUser, Content: "Input JSON:\n" + string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "relevance_verdict",
				Schema: &verdictSchema,
			},
		},
	})
	if err != nil {
		p.log.Warn("oracle call failed", zap.String("model", model), zap.Duration("took", time.Since(started)), zap.Error(err))
		return Verdict{}, errors.Wrap(ErrOracleUnavailable, err.Error())
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, errors.Wrap(ErrMalformedResponse, "no choices")
	}

	v, err := ParseVerdict(resp.Choices[0].Message.Content, p.maxLinks)
	if err != nil {
		p.log.Warn("oracle reply rejected", zap.String("model", model), zap.Error(err))
		return Verdict{}, err
	}
	p.log.Debug("oracle verdict",
		zap.String("model", model),
		zap.Bool("valid", v.IsValid),
		zap.Int("links", len(v.SuggestedLinks)),
		zap.Duration("took", time.Since(started)))
	return v, nil
}

func systemPrompt(role policy.Role, maxLinks int) string {
	rule, _ := policy.Lookup(role)
	return fmt.Sprintf(
		"You are a focus guard for a %s. Their focus area is: %s. "+
			"Decide whether the search query is relevant to that focus and safe. "+
			"Return ONLY JSON with keys: isValid (boolean), reason (string, one sentence), "+
			"suggestedLinks (array of at most %d objects with title, url, snippet and optional thumbnailUrl). "+
			"Every url must be an absolute https URL. When isValid is false return an empty suggestedLinks array.",
		role, rule.FocusArea, maxLinks)
}

var verdictSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"isValid": {Type: jsonschema.Boolean, Description: "whether the query fits the role's focus area and is safe"},
		"reason":  {Type: jsonschema.String, Description: "short explanation of the decision"},
		"suggestedLinks": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"title":        {Type: jsonschema.String},
					"url":          {Type: jsonschema.String, Description: "absolute URL"},
					"snippet":      {Type: jsonschema.String},
					"thumbnailUrl": {Type: jsonschema.String, Description: "absolute URL of a preview image"},
				},
				Required:             []string{"title", "url", "snippet"},
				AdditionalProperties: false,
			},
		},
	},
	Required:             []string{"isValid", "reason", "suggestedLinks"},
	AdditionalProperties: false,
}
