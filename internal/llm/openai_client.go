package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"agnusai-reviewer/internal/errs"
)

// openAIClient implements Client against an OpenAI-compatible chat
// completions endpoint. Reviews are a single, non-agentic completion call
// (one prompt in, one text response out): there is no tool-calling loop
// to serve here, so this carries none of the message/tool/genai
// conversion machinery the teacher's agentic OpenAIAdapter needed.
type openAIClient struct {
	client *openai.Client
	model  string
	mu     sync.Mutex
}

// New builds a Client talking to baseURL with apiKey, requesting model for
// every completion.
func New(baseURL, apiKey, model string) Client {
	c := openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey(apiKey))
	return &openAIClient{client: &c, model: model}
}

func (c *openAIClient) Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return resp, nil
}

// SimpleTextQuery sends one prompt and returns the model's raw text
// response, which modelio.Parse then turns into a domain.ReviewResult.
func (c *openAIClient) SimpleTextQuery(ctx context.Context, systemPrompt, userInput string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userInput))

	resp, err := c.Chat(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.KindMalformedModelOutput, "llm.SimpleTextQuery", fmt.Errorf("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapError classifies a provider error into the errs.Kind propagation
// policy: rate limits and 5xx are retryable/recoverable, everything else
// aborts the review.
func (c *openAIClient) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return errs.New(errs.KindRateLimited, "llm.Chat", err)
		case apiErr.StatusCode >= 500:
			return errs.New(errs.KindNetwork, "llm.Chat", err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return errs.New(errs.KindAuth, "llm.Chat", err)
		}
	}
	return errs.New(errs.KindFatal, "llm.Chat", err)
}
