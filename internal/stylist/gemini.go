package stylist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

var ErrMissingAPIKey = errors.New("gemini api key is not configured")

type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 1000,
	}
}

// ClientPool lazily creates one genai client and hands it to every caller
// for the life of the process.
type ClientPool struct {
	apiKey string

	mu     sync.RWMutex
	client *genai.Client
}

func NewClientPool(apiKey string) *ClientPool {
	return &ClientPool{apiKey: apiKey}
}

func (p *ClientPool) Client(ctx context.Context) (*genai.Client, error) {
	p.mu.RLock()
	if p.client != nil {
		defer p.mu.RUnlock()
		return p.client, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	p.client = client
	return p.client, nil
}

// Close drops the cached client; genai clients hold no resources to release.
func (p *ClientPool) Close() {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
}

type Gemini struct {
	pool   *ClientPool
	model  string
	config GenerationConfig
}

func NewGemini(pool *ClientPool, model string, config GenerationConfig) *Gemini {
	return &Gemini{pool: pool, model: model, config: config}
}

func (g *Gemini) Generate(ctx context.Context, prompt string, images ...InlineImage) (string, error) {
	client, err := g.pool.Client(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}

	resp, err := client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(g.config.Temperature),
			TopP:            genai.Ptr(g.config.TopP),
			TopK:            genai.Ptr(g.config.TopK),
			MaxOutputTokens: g.config.MaxOutputTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return resp.Text(), nil
}
