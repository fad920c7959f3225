package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Step names. They label events, metrics and failure reports.
const (
	StepInitialization     = "initialization"
	AgentTopic             = "topic_agent"
	AgentResearch          = "research_agent"
	AgentPromptGenerator   = "prompt_generator_agent"
	AgentWriter            = "writer_agent"
	AgentReviewer          = "reviewer_agent"
	AgentImagePrompt       = "image_prompt_agent"
	AgentImageGenerator    = "image_generator_agent"
	eventTopicSubstitution = "topic_substitution"
	eventCharCount         = "char_count_check"
	eventRunComplete       = "run_complete"
	eventRunFailed         = "run_failed"
)

// RunConfig is persisted as the first artifact of every run.
type RunConfig struct {
	RunID      string    `json:"run_id"`
	Field      string    `json:"field"`
	DryRun     bool      `json:"dry_run"`
	TextModel  string    `json:"text_model"`
	ImageModel string    `json:"image_model"`
	CreatedAt  time.Time `json:"created_at"`
}

// Source is one reference found by research.
type Source struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	KeyFinding string `json:"key_finding,omitempty"`
}

// Research is the output of the research step.
type Research struct {
	Topic   string   `json:"topic"`
	Sources []Source `json:"sources"`
	Summary string   `json:"summary"`
}

// Brief is the structured prompt handed to the writer.
type Brief struct {
	TopicTitle      string     `json:"topic_title"`
	TargetAudience  string     `json:"target_audience"`
	PainPoint       string     `json:"pain_point"`
	KeyMetrics      stringList `json:"key_metrics"`
	Analogy         string     `json:"analogy"`
	SolutionOutline string     `json:"solution_outline"`
	CodeSnippet     string     `json:"code_snippet,omitempty"`
}

// Missing lists the required fields left empty.
func (b Brief) Missing() []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"topic_title", b.TopicTitle},
		{"target_audience", b.TargetAudience},
		{"pain_point", b.PainPoint},
		{"analogy", b.Analogy},
		{"solution_outline", b.SolutionOutline},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// ShorteningInstruction tells the writer how far over the limit the last
// post was.
type ShorteningInstruction struct {
	CurrentCount int    `json:"current_count"`
	TargetCount  int    `json:"target_count"`
	Overage      int    `json:"overage"`
	Message      string `json:"message"`
	// Previous is the post that was too long.
	Previous string `json:"-"`
}

func newShorteningInstruction(count, maxChars, target int, previous string) *ShorteningInstruction {
	return &ShorteningInstruction{
		CurrentCount: count,
		TargetCount:  target,
		Overage:      count - maxChars,
		Message: fmt.Sprintf("Post is %d characters (limit: %d). Please shorten to ~%d characters "+
			"while preserving key insights and the Witty Expert persona.", count, maxChars, target),
		Previous: previous,
	}
}

type topicCandidate struct {
	Topic     string `json:"topic"`
	Novelty   string `json:"novelty"`
	Rationale string `json:"rationale,omitempty"`
}

const (
	noveltyNetNew = "net_new"
	noveltyReused = "reused_with_new_angle"
)

// topicRecord is the topic artifact.
type topicRecord struct {
	Topic    string `json:"topic"`
	Field    string `json:"field"`
	Source   string `json:"source"`
	Novelty  string `json:"novelty,omitempty"`
	Attempts int    `json:"selection"`
}

// finalPostRecord describes the published post. FallbackReason is set when
// the post is the approved template.
type finalPostRecord struct {
	CharCount      int                   `json:"char_count"`
	Iterations     int                   `json:"iterations"`
	Template       bool                  `json:"template"`
	FallbackReason domain.FallbackReason `json:"fallback_reason,omitempty"`
}

// reviewRecord is the review artifact.
type reviewRecord struct {
	Iteration        int    `json:"iteration"`
	OriginalChars    int    `json:"original_char_count"`
	Revised          string `json:"revised"`
	CharCount        int    `json:"char_count"`
	HashtagsRemoved  bool   `json:"hashtags_removed"`
	BlacklistRemoved int    `json:"blacklist_removed"`
}
