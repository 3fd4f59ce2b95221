// Package digest produces a prose summary of the knowledge base for
// `lore status --digest`.
package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lorekit/lore/internal/index"
)

// Summarizer turns an index into a short digest for humans or for
// injection into an assistant prompt.
type Summarizer interface {
	Digest(ctx context.Context, idx *index.Index) (string, error)
}

// Static is the fallback summarizer. It returns the index's own
// summary untouched, so status output works without an API key.
type Static struct{}

// Digest implements Summarizer.
func (Static) Digest(_ context.Context, idx *index.Index) (string, error) {
	return idx.Summarize(), nil
}

const digestModel = anthropic.ModelClaudeSonnet4_20250514

const digestSystemPrompt = `You summarize an engineering team's shared
knowledge base. Given its index, write at most three sentences covering
what the base holds, which product lines are best covered, and any
notable gap. Plain prose, no lists.`

// Anthropic summarizes through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates a summarizer with the given API key. An empty
// key falls back to the SDK's environment lookup.
func NewAnthropic(apiKey string) *Anthropic {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Digest implements Summarizer.
func (a *Anthropic) Digest(ctx context.Context, idx *index.Index) (string, error) {
	if idx.Total == 0 {
		return index.EmptySummary, nil
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     digestModel,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: digestSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(idx))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("digest request failed: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("digest response contained no text")
	}
	return text, nil
}

// buildPrompt renders the index as the model input: the counts summary
// plus one line per asset.
func buildPrompt(idx *index.Index) string {
	var b strings.Builder
	b.WriteString(idx.Summarize())
	b.WriteString("\n\nAssets:\n")
	for _, e := range idx.Entries {
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", e.Type, e.Name, e.ProductLine, e.Title)
	}
	return b.String()
}

// ForConfig picks the summarizer: Anthropic when enabled, Static
// otherwise.
func ForConfig(enabled bool, apiKey string) Summarizer {
	if enabled {
		return NewAnthropic(apiKey)
	}
	return Static{}
}
