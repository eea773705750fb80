package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TransportError wraps network and API-level failures. These are transient
// and worth a bounded retry.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vision API transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RefusalError is returned when the model declines to analyze the frame.
// Terminal for the tick: refusals are never retried.
type RefusalError struct {
	Message string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("vision model refused analysis: %s", e.Message)
}

// systemPrompt instructs the model to return a bare JSON object with the six
// visual flags plus a confidence score. Keys must match
// detection.RawVisualObservation.
const systemPrompt = `You are a driver monitoring assistant. Analyze the driver's face in the image and assess visible signs of impairment.

Return ONLY a JSON object with these exact fields (no prose, no markdown):
- eyesRed (boolean) - visibly bloodshot or red eyes
- eyesGlassy (boolean) - glassy or unfocused eyes
- eyesHalfClosed (boolean) - droopy, half-closed eyelids
- eyesClosed (boolean) - eyes fully closed
- faceRed (boolean) - unusual facial redness or flushing
- lookingAway (boolean) - gaze directed away from the road
- confidence (number) - your confidence in this assessment, 0-100

Set a flag only when the sign is clearly visible. When the face is not
visible or the image is too dark, set all flags to false with low confidence.`

const userPrompt = `Assess this driver camera frame and return the JSON object.`

// Client wraps the OpenAI chat-completions API for driver frame analysis.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates a vision client for the given API key and model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

// NewClientWithConfig creates a vision client from an explicit OpenAI client
// config. Used by tests to point at a local HTTP server and by deployments
// using an OpenAI-compatible gateway.
func NewClientWithConfig(cfg openai.ClientConfig, model string) *Client {
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

// AnalyzeFrame submits a JPEG frame inlined as a base64 data URL and returns
// the raw model reply text. The three failure modes are distinguished:
// transport errors (retryable), model refusals (terminal), and empty
// responses (transport-class).
func (c *Client) AnalyzeFrame(ctx context.Context, frame []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(frame)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: userPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/jpeg;base64," + encoded,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   500,
		Temperature: 0.1, // Low temperature for deterministic structured output
	})
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", &TransportError{Err: errors.New("no choices in completion response")}
	}

	message := resp.Choices[0].Message
	if message.Refusal != "" {
		return "", &RefusalError{Message: message.Refusal}
	}

	return message.Content, nil
}

// HealthCheck verifies API connectivity with a minimal completion call.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Test"},
		},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("vision API health check failed: %w", err)
	}
	return nil
}
