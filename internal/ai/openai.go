package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/marcelo/licita-radar/internal/collect"
)

// Policy names what happens when the external call fails. The divergence
// is deliberate: enrichment degrades to "no enrichment", verification
// rejects the match.
type Policy string

const (
	PolicyFailOpen   Policy = "fail-open"   // segment enrichment
	PolicyFailClosed Policy = "fail-closed" // match verification
)

// Client wraps the OpenAI API for the three text-understanding uses of
// the pipeline: segment enrichment, match verification, and object-text
// embeddings.
type Client struct {
	client openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  "gpt-4o-mini",
	}
}

type enrichmentPayload struct {
	Summary string                  `json:"summary"`
	Items   []collect.ItemCandidate `json:"items"`
}

// EnrichSegment implements collect.Enricher (PolicyFailOpen: the caller
// treats any error as "no enrichment").
func (c *Client) EnrichSegment(ctx context.Context, segment string) (*collect.SegmentEnrichment, error) {
	if len(segment) > 8000 {
		segment = segment[:8000]
	}

	prompt := fmt.Sprintf(`Você é um analista de licitações públicas. Leia o trecho de diário oficial abaixo e extraia:
1. "summary": resumo neutro de 1-2 frases do objeto licitado.
2. "items": itens licitados, cada um com "description", "quantity" (número) e "unit" (ex.: UN, CX, KIT). Liste apenas itens explícitos no texto; caso nenhum, use lista vazia.

Trecho:
%s

Responda APENAS com o objeto JSON:
{"summary": "string", "items": [{"description": "string", "quantity": 0, "unit": "string"}]}`, segment)

	content, err := c.complete(ctx, "Você extrai dados estruturados de avisos de licitação.", prompt)
	if err != nil {
		return nil, err
	}

	var payload enrichmentPayload
	if err := unmarshalLoose(content, &payload); err != nil {
		return nil, fmt.Errorf("parsing enrichment response: %w", err)
	}
	return &collect.SegmentEnrichment{Summary: payload.Summary, Items: payload.Items}, nil
}

type verificationPayload struct {
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason"`
}

// VerifyMatch implements match.Verifier (PolicyFailClosed: callers reject
// the match when this errors out).
func (c *Client) VerifyMatch(ctx context.Context, itemText, productName string) (bool, error) {
	prompt := fmt.Sprintf(`Item licitado: %q
Produto do catálogo: %q

O produto atende tecnicamente ao item? Considere sinônimos, e responda "compatible": false quando um for equipamento e o outro insumo/reagente.

Responda APENAS com JSON: {"compatible": true|false, "reason": "string"}`, itemText, productName)

	content, err := c.complete(ctx, "Você valida compatibilidade técnica entre itens de licitação e produtos.", prompt)
	if err != nil {
		return false, err
	}

	var payload verificationPayload
	if err := unmarshalLoose(content, &payload); err != nil {
		return false, fmt.Errorf("parsing verification response: %w", err)
	}
	return payload.Compatible, nil
}

// GenerateEmbedding returns an embedding of the text for the dashboard's
// semantic search. Best-effort; callers ignore failures.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if len(text) > 8000 {
		text = text[:8000]
	}
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModelTextEmbedding3Small,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(system),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(1500),
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// unmarshalLoose tolerates markdown fences and prose around the JSON
// object the model was asked for.
func unmarshalLoose(content string, v interface{}) error {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if obj, ok := firstJSONObject(cleaned); ok {
		cleaned = obj
	}
	return json.Unmarshal([]byte(cleaned), v)
}

// firstJSONObject finds the first outermost balanced {...}.
func firstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		char := s[i]
		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
