package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/postforge/internal/core/domain"
)

const (
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

// Config holds generation service configuration.
type Config struct {
	// Provider is "gemini" or "offline".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the Gemini API host.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	client *genai.Client
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a client. An empty API key is a configuration error.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api_key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) GenerateText(ctx context.Context, req TextRequest) (TextResult, error) {
	gc := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), gc)
	if err != nil {
		return TextResult{}, callError(ctx, req.Model, err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return TextResult{}, domain.NewTransient("gemini: empty response from %s", req.Model)
	}

	return TextResult{Text: text, Usage: usageOf(resp)}, nil
}

func (c *GeminiClient) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	gc := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), gc)
	if err != nil {
		return ImageResult{}, callError(ctx, req.Model, err)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			return ImageResult{
				Data:     p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
				Usage:    usageOf(resp),
			}, nil
		}
	}
	return ImageResult{}, domain.NewTransient("gemini: no image data returned by %s", req.Model)
}

// callError converts an SDK failure. API errors become gRPC statuses so the
// retry classifier sees the canonical code and any QuotaFailure detail.
func callError(ctx context.Context, model string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return domain.Wrap(domain.KindTransient, err, "gemini: request failed")
	}
	return fmt.Errorf("gemini %s: %w", model, apiStatus(apiErr).Err())
}

// apiStatus rebuilds the google.rpc.Status carried by a Gemini error body.
func apiStatus(e genai.APIError) *status.Status {
	var code codes.Code
	if err := code.UnmarshalJSON([]byte(strconv.Quote(e.Status))); err != nil || e.Status == "" {
		code = codeForHTTP(e.Code)
	}

	st := status.New(code, e.Message)
	for _, d := range e.Details {
		typ, _ := d["@type"].(string)
		switch {
		case strings.HasSuffix(typ, "google.rpc.QuotaFailure"):
			qf := &errdetails.QuotaFailure{}
			violations, _ := d["violations"].([]any)
			for _, v := range violations {
				m, _ := v.(map[string]any)
				qf.Violations = append(qf.Violations, &errdetails.QuotaFailure_Violation{
					Subject:     stringField(m, "subject"),
					Description: stringField(m, "description"),
				})
			}
			if withDetail, err := st.WithDetails(qf); err == nil {
				st = withDetail
			}
		case strings.HasSuffix(typ, "google.rpc.ErrorInfo"):
			ei := &errdetails.ErrorInfo{Reason: stringField(d, "reason"), Domain: stringField(d, "domain")}
			if withDetail, err := st.WithDetails(ei); err == nil {
				st = withDetail
			}
		}
	}
	return st
}

// codeForHTTP follows the google.rpc.Code HTTP mapping.
func codeForHTTP(httpCode int) codes.Code {
	switch httpCode {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusNotImplemented:
		return codes.Unimplemented
	}
	if httpCode >= 500 {
		return codes.Internal
	}
	return codes.InvalidArgument
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func usageOf(resp *genai.GenerateContentResponse) domain.Usage {
	if resp.UsageMetadata == nil {
		return domain.Usage{}
	}
	return domain.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}
