// Package generation is the boundary to the text and image generation service.
//
// This package contains:
//   - Generator: the interface every pipeline step calls
//   - GeminiClient: a Gemini API client built on the genai SDK
//   - Offline: a deterministic generator for dry runs and tests
package generation

import (
	"context"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Task names what a text request is for. Remote models ignore it; the
// offline generator uses it to shape its output.
type Task string

const (
	TaskTopic            Task = "topic"
	TaskResearch         Task = "research"
	TaskStructuredPrompt Task = "structured_prompt"
	TaskDraft            Task = "draft"
	TaskReview           Task = "review"
	TaskImagePrompt      Task = "image_prompt"
)

// TextRequest is one text generation call.
type TextRequest struct {
	Task              Task
	Model             string
	Prompt            string
	SystemInstruction string
	Temperature       float64
	// Subject is the material the task operates on, such as the topic being
	// researched or the draft being reviewed.
	Subject string
}

// TextResult is the response to a TextRequest.
type TextResult struct {
	Text  string
	Usage domain.Usage
}

// ImageRequest asks for one image.
type ImageRequest struct {
	Model  string
	Prompt string
}

// ImageResult carries the encoded image. Persisting it is up to the caller.
type ImageResult struct {
	Data     []byte
	MIMEType string
	Usage    domain.Usage
}

// Generator produces text and images.
type Generator interface {
	GenerateText(ctx context.Context, req TextRequest) (TextResult, error)
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}
