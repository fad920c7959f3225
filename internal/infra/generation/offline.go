package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Offline answers every request locally and deterministically. It backs
// dry runs, so a full pipeline can be exercised without network access
// or spend.
type Offline struct{}

var _ Generator = Offline{}

func (Offline) GenerateText(ctx context.Context, req TextRequest) (TextResult, error) {
	if err := ctx.Err(); err != nil {
		return TextResult{}, err
	}

	var text string
	switch req.Task {
	case TaskTopic:
		text = offlineJSON(map[string]any{
			"topics": []map[string]string{
				{"topic": "Shipping reliable LLM features with offline evaluation", "novelty": "net_new"},
			},
		})
	case TaskResearch:
		text = offlineJSON(map[string]any{
			"topic": req.Subject,
			"sources": []map[string]string{
				{"title": "Field notes on " + req.Subject, "url": "https://example.com/notes", "key_finding": "Teams that measure first ship faster."},
				{"title": "A practitioner survey", "url": "https://example.com/survey", "key_finding": "Most failures trace back to unclear success metrics."},
			},
			"summary": "Practitioners agree that " + req.Subject + " succeeds when the success metric is agreed up front.",
		})
	case TaskStructuredPrompt:
		text = offlineJSON(map[string]any{
			"topic_title":      req.Subject,
			"target_audience":  "Engineering leads shipping data products",
			"pain_point":       "Projects stall because nobody agreed what success looks like",
			"key_metrics":      []string{"time to first result", "defect rate"},
			"analogy":          "Like cooking without tasting the soup",
			"solution_outline": "Define the metric, build the smallest loop, then iterate",
		})
	case TaskDraft:
		text = offlineDraft(req.Subject)
	case TaskReview:
		text = strings.TrimSpace(req.Subject)
	case TaskImagePrompt:
		text = "A clean, minimal illustration of a feedback loop drawn as a kitchen ladle over a pot, flat colors, no text."
	default:
		return TextResult{}, domain.NewValidation("offline generator: unknown task %q", req.Task)
	}

	return TextResult{
		Text:  text,
		Usage: domain.Usage{InputTokens: approxTokens(req.Prompt + req.SystemInstruction), OutputTokens: approxTokens(text)},
	}, nil
}

func (Offline) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return ImageResult{}, err
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ImageResult{}, fmt.Errorf("encode png: %w", err)
	}
	return ImageResult{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

func offlineJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func offlineDraft(subject string) string {
	title := subject
	if title == "" {
		title = "Shipping data products"
	}
	paragraphs := []string{
		"Ever tried cooking without tasting the soup? That is most " + title + " projects.",
		"We start with a model, a dashboard and a deadline. What we skip is the one sentence that says what \"better\" means.",
		"Here is the loop that works for the teams I talk to:\n1. Write the success metric before the first line of code.\n2. Build the smallest thing that moves it.\n3. Measure, then decide whether to keep going.",
		"It sounds obvious. It is also the step that gets cut when the calendar gets tight.",
		"What is the metric your current project is actually optimizing?",
	}
	return strings.Join(paragraphs, "\n\n")
}

func approxTokens(s string) int {
	n := utf8.RuneCountInString(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
