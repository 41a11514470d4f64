package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"
)

const relevanceSystemPrompt = "You are an expert tasked with determining whether the passage is relevant to the query"

// OpenAICrossEncoder scores each passage with a boolean relevance prompt,
// one chat call per passage under a concurrency cap. Coarse but workable
// when no local reranker model is available.
type OpenAICrossEncoder struct {
	client    *openai.Client
	model     string
	semaphore chan struct{}
}

// NewOpenAICrossEncoder creates the client. Empty model uses gpt-4o-mini.
func NewOpenAICrossEncoder(apiKey, model string, maxConcurrency int) *OpenAICrossEncoder {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &OpenAICrossEncoder{
		client:    openai.NewClient(apiKey),
		model:     model,
		semaphore: make(chan struct{}, maxConcurrency),
	}
}

// Rank scores every passage concurrently and returns them highest first.
func (c *OpenAICrossEncoder) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	if len(passages) == 0 {
		return []RankedPassage{}, nil
	}

	scores := make([]float64, len(passages))
	errs := make([]error, len(passages))
	var wg sync.WaitGroup
	for i, passage := range passages {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			select {
			case c.semaphore <- struct{}{}:
				defer func() { <-c.semaphore }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			scores[idx], errs[idx] = c.scorePassage(ctx, query, p)
		}(i, passage)
	}
	wg.Wait()

	ranked := make([]RankedPassage, 0, len(passages))
	for i, passage := range passages {
		if errs[i] != nil {
			return nil, errors.Wrapf(errs[i], "scoring passage %d", i)
		}
		ranked = append(ranked, RankedPassage{Passage: passage, Score: scores[i]})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

func (c *OpenAICrossEncoder) scorePassage(ctx context.Context, query, passage string) (float64, error) {
	prompt := fmt.Sprintf(`Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`, passage, query)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: relevanceSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   2,
		Temperature: 0,
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0.5, nil
	}

	// The first token decides; anything ambiguous scores neutral.
	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch {
	case strings.HasPrefix(answer, "true"), strings.HasPrefix(answer, "yes"):
		return 0.8, nil
	case strings.HasPrefix(answer, "false"), strings.HasPrefix(answer, "no"):
		return 0.2, nil
	default:
		return 0.5, nil
	}
}

// Close cleans up any resources.
func (c *OpenAICrossEncoder) Close() error {
	return nil
}
