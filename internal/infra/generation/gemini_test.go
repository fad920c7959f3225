package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/execution/retry"
)

func newTestGemini(t *testing.T, h http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewGeminiClient(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	return c
}

func genaiError(code int, st string, details []map[string]any) genai.APIError {
	return genai.APIError{Code: code, Message: "failed", Status: st, Details: details}
}

func TestGeminiGenerateText(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-2.5-pro:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"write"`)) {
			t.Errorf("prompt not sent: %s", body)
		}
		if !bytes.Contains(body, []byte(`"be brief"`)) {
			t.Errorf("system instruction not sent: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"  hello "},{"text":"world"}]}}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":3}}`))
	})

	res, err := c.GenerateText(context.Background(), TextRequest{
		Model:             "gemini-2.5-pro",
		Prompt:            "write",
		SystemInstruction: "be brief",
	})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Usage != (domain.Usage{InputTokens: 12, OutputTokens: 3}) {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestGeminiStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      codes.Code
		kind      domain.Kind
		retryable bool
	}{
		{"server error", 503, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`,
			codes.Unavailable, domain.KindTransient, true},
		{"rate limit", 429, `{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`,
			codes.ResourceExhausted, domain.KindTransient, false},
		{"quota detail", 503, `{"error":{"code":503,"message":"busy","status":"UNAVAILABLE","details":[
			{"@type":"type.googleapis.com/google.rpc.QuotaFailure","violations":[{"subject":"project:1","description":"daily limit"}]}]}}`,
			codes.Unavailable, domain.KindTransient, false},
		{"bad request", 400, `{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`,
			codes.InvalidArgument, domain.KindValidation, false},
		{"unknown model", 404, `{"error":{"code":404,"message":"model not found","status":"NOT_FOUND"}}`,
			codes.NotFound, domain.KindValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GenerateText(context.Background(), TextRequest{Model: "m", Prompt: "p"})
			if err == nil {
				t.Fatal("expected error")
			}

			st, ok := status.FromError(err)
			if !ok || st.Code() != tt.code {
				t.Fatalf("status = %v (ok=%v), want %v", st.Code(), ok, tt.code)
			}

			de := retry.Classify(err)
			if de.Kind != tt.kind || de.Retryable != tt.retryable {
				t.Errorf("kind=%v retryable=%v, want %v %v", de.Kind, de.Retryable, tt.kind, tt.retryable)
			}
		})
	}
}

func TestAPIStatusDetails(t *testing.T) {
	st := apiStatus(genaiError(429, "RESOURCE_EXHAUSTED", []map[string]any{
		{
			"@type":      "type.googleapis.com/google.rpc.QuotaFailure",
			"violations": []any{map[string]any{"subject": "project:1", "description": "per minute"}},
		},
		{"@type": "type.googleapis.com/google.rpc.ErrorInfo", "reason": "RATE_LIMIT_EXCEEDED", "domain": "googleapis.com"},
	}))

	if st.Code() != codes.ResourceExhausted {
		t.Errorf("code = %v", st.Code())
	}
	var quota *errdetails.QuotaFailure
	var info *errdetails.ErrorInfo
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.QuotaFailure:
			quota = v
		case *errdetails.ErrorInfo:
			info = v
		}
	}
	if quota == nil || len(quota.Violations) != 1 || quota.Violations[0].Description != "per minute" {
		t.Errorf("quota detail = %v", quota)
	}
	if info == nil || info.Reason != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("error info = %v", info)
	}
}

func TestCodeForHTTP(t *testing.T) {
	tests := []struct {
		http int
		code codes.Code
	}{
		{400, codes.InvalidArgument},
		{403, codes.PermissionDenied},
		{404, codes.NotFound},
		{429, codes.ResourceExhausted},
		{500, codes.Internal},
		{502, codes.Internal},
		{503, codes.Unavailable},
		{504, codes.DeadlineExceeded},
		{418, codes.InvalidArgument},
	}
	for _, tt := range tests {
		if got := codeForHTTP(tt.http); got != tt.code {
			t.Errorf("codeForHTTP(%d) = %v, want %v", tt.http, got, tt.code)
		}
	}

	if got := apiStatus(genaiError(503, "503 Service Unavailable", nil)).Code(); got != codes.Unavailable {
		t.Errorf("plain status text: code = %v", got)
	}
}

func TestGeminiEmptyResponse(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[]}`))
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Model: "m", Prompt: "p"})
	if !domain.IsKind(err, domain.KindTransient) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestGeminiGenerateImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	data := base64.StdEncoding.EncodeToString(buf.Bytes())

	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"IMAGE"`)) {
			t.Errorf("image modality not requested: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` + data + `"}}]}}],
			"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":1290}}`))
	})

	res, err := c.GenerateImage(context.Background(), ImageRequest{Model: "img", Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if !bytes.Equal(res.Data, buf.Bytes()) {
		t.Errorf("image bytes differ")
	}
	if res.MIMEType != "image/png" || res.Usage.OutputTokens != 1290 {
		t.Errorf("result = %s %+v", res.MIMEType, res.Usage)
	}
}

func TestGeminiImageMissing(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	})
	_, err := c.GenerateImage(context.Background(), ImageRequest{Model: "img", Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "no image data") {
		t.Errorf("err = %v", err)
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), Config{}); err == nil {
		t.Error("expected error without api key")
	}
}

// ==================== Offline ====================

func TestOfflineTasks(t *testing.T) {
	g := Offline{}
	for _, task := range []Task{TaskTopic, TaskResearch, TaskStructuredPrompt} {
		res, err := g.GenerateText(context.Background(), TextRequest{Task: task, Subject: "vector search"})
		if err != nil {
			t.Fatalf("%s: %v", task, err)
		}
		if !json.Valid([]byte(res.Text)) {
			t.Errorf("%s: output is not JSON: %s", task, res.Text)
		}
	}

	res, err := g.GenerateText(context.Background(), TextRequest{Task: TaskReview, Subject: "  draft  "})
	if err != nil || res.Text != "draft" {
		t.Errorf("review = %q, %v", res.Text, err)
	}

	if _, err := g.GenerateText(context.Background(), TextRequest{Task: "nope"}); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("unknown task err = %v", err)
	}
}

func TestOfflineImageIsPNG(t *testing.T) {
	res, err := (Offline{}).GenerateImage(context.Background(), ImageRequest{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if res.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", res.MIMEType)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(res.Data)); err != nil {
		t.Errorf("not a png: %v", err)
	}
}
