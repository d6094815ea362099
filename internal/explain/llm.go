package explain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"reconcile-cloud/internal/observability/metrics"
	reconcile "reconcile-cloud/internal/reconcile/domain"
)

var errEmptyCompletion = errors.New("explain: empty completion")

// ChatCompleter is the slice of the OpenAI client the explainer needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config carries the LLM leash settings.
type Config struct {
	Model          string
	CallsPerMinute float64
	CacheTTL       time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Model:          openai.GPT4oMini,
		CallsPerMinute: 10,
		CacheTTL:       30 * 24 * time.Hour,
	}
}

// Explainer produces verdict explanations. With a client configured it
// tries the LLM behind a rate leash and falls back to the deterministic
// templates; without one it is purely deterministic. Explanations are
// cached by line fingerprint.
type Explainer struct {
	client  ChatCompleter
	cfg     Config
	limiter *rate.Limiter
	cache   *gocache.Cache
	logger  *log.Logger
}

// New constructs an explainer. A nil client disables LLM calls.
func New(client ChatCompleter, cfg Config, logger *log.Logger) *Explainer {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = DefaultConfig().CallsPerMinute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Explainer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerMinute/60), 1),
		cache:   gocache.New(cfg.CacheTTL, 24*time.Hour),
		logger:  logger,
	}
}

// Explain returns an explanation for the given engine facts. It never
// fails: any LLM problem degrades to the deterministic template.
func (e *Explainer) Explain(ctx context.Context, facts Facts, fingerprint string) Response {
	if fingerprint != "" {
		if cached, ok := e.cache.Get(fingerprint); ok {
			if response, ok := cached.(Response); ok {
				metrics.IncExplainRequest("cache")
				return response
			}
		}
	}

	response := e.generate(ctx, facts)
	if fingerprint != "" {
		e.cache.Set(fingerprint, response, gocache.DefaultExpiration)
	}
	return response
}

func (e *Explainer) generate(ctx context.Context, facts Facts) Response {
	// Clean lines never spend an LLM call.
	if e.client == nil || facts.Verdict == reconcile.VerdictOKOnContract {
		metrics.IncExplainRequest(deterministicModelID)
		return Deterministic(facts)
	}
	if !e.limiter.Allow() {
		metrics.IncExplainRequest(deterministicModelID)
		return Deterministic(facts)
	}

	response, err := e.callLLM(ctx, facts)
	if err != nil {
		e.logger.Printf("explainer: llm call failed, using template: %v", err)
		metrics.IncExplainRequest(deterministicModelID)
		return Deterministic(facts)
	}
	if err := response.Validate(); err != nil {
		e.logger.Printf("explainer: llm response rejected: %v", err)
		metrics.IncExplainRequest(deterministicModelID)
		return Deterministic(facts)
	}
	if response.EngineVerdict != string(facts.Verdict) {
		// The model contradicted the engine; its output is discarded.
		e.logger.Printf("explainer: llm verdict %q contradicts engine %q, discarded", response.EngineVerdict, facts.Verdict)
		metrics.IncExplainRequest(deterministicModelID)
		return Deterministic(facts)
	}
	metrics.IncExplainRequest("llm")
	return response
}

func (e *Explainer) callLLM(ctx context.Context, facts Facts) (Response, error) {
	prompt, err := buildPrompt(facts)
	if err != nil {
		return Response{}, err
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You explain invoice reconciliation verdicts to hospitality operators. " +
					"Respond with JSON: headline (max 100 chars), explanation (max 500 chars), " +
					"suggested_actions (1-3 objects with label and reason), engine_verdict " +
					"(must repeat the verdict you were given verbatim).",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errEmptyCompletion
	}

	content := resp.Choices[0].Message.Content
	var response Response
	if err := json.Unmarshal([]byte(content), &response); err != nil {
		return Response{}, err
	}
	response.EngineFactsHash = FactsHash(facts)
	response.ModelID = e.cfg.Model
	response.PromptHash = digest(prompt)
	response.ResponseHash = digest(content)
	return response, nil
}

func buildPrompt(facts Facts) (string, error) {
	payload := struct {
		Verdict      string   `json:"verdict"`
		Hypothesis   string   `json:"hypothesis,omitempty"`
		ImpliedValue *float64 `json:"implied_value,omitempty"`
		Residual     *float64 `json:"residual,omitempty"`
		SKUID        string   `json:"sku_id"`
		SupplierID   string   `json:"supplier_id"`
	}{
		Verdict:      string(facts.Verdict),
		Hypothesis:   facts.Hypothesis,
		ImpliedValue: facts.ImpliedValue,
		Residual:     facts.Residual,
		SKUID:        facts.SKUID,
		SupplierID:   facts.SupplierID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return "Engine facts: " + string(data), nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
