package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiResolver asks a Gemini model to pair unmapped fields with headers.
type GeminiResolver struct {
	models *genai.Models
	model  string
}

// NewGeminiResolver creates a resolver using the Gemini API key.
func NewGeminiResolver(ctx context.Context, apiKey, model string) (*GeminiResolver, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiResolver: create genai client: %w", err)
	}
	return &GeminiResolver{models: client.Models, model: model}, nil
}

// Resolve returns field -> header for the fields the model could place.
func (g *GeminiResolver) Resolve(ctx context.Context, missing []string, headers []string) (map[string]string, error) {
	prompt := buildHeaderPrompt(missing, headers)

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("Resolve: generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("Resolve: empty response from model")
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("Resolve: unmarshal JSON: %w\nraw response: %s", err, raw)
	}
	return out, nil
}

func buildHeaderPrompt(missing []string, headers []string) string {
	var b strings.Builder
	b.WriteString("You map spreadsheet columns of a Brazilian P&L (DRE) export to canonical fields.\n")
	b.WriteString("Field meanings:\n")
	b.WriteString("- project: project name or \"code - name\" label\n")
	b.WriteString("- category: account summary (conta resumo), e.g. RECEITA, CLT, Subcontratados\n")
	b.WriteString("- amount: monetary value of the line\n")
	b.WriteString("- period: month of the entry (M/YYYY or a date)\n")
	b.WriteString("- year / month: separate year and month columns\n")
	b.WriteString("- nature: RECEITA or CUSTO\n\n")
	b.WriteString("Fields to map: " + strings.Join(missing, ", ") + "\n")
	b.WriteString("Available headers (use the exact text):\n")
	for _, h := range headers {
		if h != "" {
			b.WriteString("- " + h + "\n")
		}
	}
	b.WriteString("\nReturn ONLY a JSON object from field to header text. Omit fields you cannot place.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and keeps the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
