package classify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const triagePrompt = `You triage free-text entries written by patients in mental health care.
Decide whether the entry needs the care team's attention. Reply with a single JSON object:
{"hasAlert": boolean, "alertLevel": "low"|"medium"|"high", "alertType": string,
 "keyWords": [string], "recommendation": string, "confidence": string}
Use alertType values such as "suicide", "self_harm", "crisis", "relapse" or "other".
When nothing is concerning reply {"hasAlert": false}.`

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient is optional; tests point it at a local server.
	HTTPClient *http.Client
}

// OpenAIClassifier asks a chat completion model for the same reply shape
// the HTTP classifier returns.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClassifier{client: openai.NewClientWithConfig(oc), model: model}
}

func (c *OpenAIClassifier) Name() string { return "openai" }

func (c *OpenAIClassifier) Classify(ctx context.Context, req Request) ([]byte, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: triagePrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return []byte(resp.Choices[0].Message.Content), nil
}
