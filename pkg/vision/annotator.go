// Package vision produces Spanish vocabulary annotations for bird images
// through a multimodal model, wiring the cache, learner, cost tracking and
// batch machinery around it.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/avelingo/avelingo-go/pkg/annotation"
	"github.com/avelingo/avelingo-go/pkg/costs"
	"github.com/avelingo/avelingo-go/pkg/errors"
	"github.com/avelingo/avelingo-go/pkg/logging"
)

const defaultMaxTokens = 2048

// Request asks for annotations on one bird image.
type Request struct {
	Species   string
	Features  []string
	ImageData []byte
	MimeType  string
	Prompt    string
	MaxTokens int
}

// Response carries the parsed annotations plus the token usage that
// produced them.
type Response struct {
	Annotations []annotation.Annotation
	Usage       costs.TokenUsage
	RawText     string
}

// Annotator turns an image request into vocabulary annotations.
type Annotator interface {
	Annotate(ctx context.Context, req Request) (*Response, error)
}

// AnthropicAnnotator implements Annotator against the Anthropic Messages
// API with a vision-capable model.
type AnthropicAnnotator struct {
	client *anthropic.Client
	model  anthropic.Model
	logger *logging.Logger
}

// NewAnthropicAnnotator creates an annotator for the given model ID.
func NewAnthropicAnnotator(apiKey string, model string) (*AnthropicAnnotator, error) {
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "API key is required")
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicAnnotator{
		client: &client,
		model:  anthropic.Model(model),
		logger: logging.GetLogger(),
	}, nil
}

// Annotate sends the image and prompt to the model and parses the JSON
// annotation array out of its reply.
func (a *AnthropicAnnotator) Annotate(ctx context.Context, req Request) (*Response, error) {
	if len(req.ImageData) == 0 {
		return nil, errors.New(errors.InvalidInput, "image data is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	blocks := []anthropic.ContentBlockParamUnion{
		{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						Data:      base64.StdEncoding.EncodeToString(req.ImageData),
						MediaType: anthropic.Base64ImageSourceMediaType(mimeType),
					},
				},
			},
		},
		{
			OfText: &anthropic.TextBlockParam{Text: req.Prompt},
		},
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			},
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			a.logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.VisionGenerationFailed, "failed to generate annotations"),
			errors.Fields{
				"model":   string(a.model),
				"species": req.Species,
			})
	}
	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.InvalidResponse, "received empty content from Anthropic API")
	}

	var text string
	if block := message.Content[0]; block.Type == "text" {
		text = block.Text
	}

	annotations, err := parseAnnotations(text)
	if err != nil {
		return nil, err
	}

	usage := costs.TokenUsage{
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}
	a.logger.Debug(ctx, "annotated %s: %d annotations, %d prompt tokens, %d completion tokens",
		req.Species, len(annotations), usage.InputTokens, usage.OutputTokens)

	return &Response{
		Annotations: annotations,
		Usage:       usage,
		RawText:     text,
	}, nil
}

// parseAnnotations extracts the JSON annotation array from model output,
// tolerating surrounding prose and markdown code fences.
func parseAnnotations(text string) ([]annotation.Annotation, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, errors.WithFields(
			errors.New(errors.InvalidResponse, "no JSON array found in model output"),
			errors.Fields{"text": text})
	}

	var annotations []annotation.Annotation
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &annotations); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to parse annotation array")
	}
	return annotations, nil
}
