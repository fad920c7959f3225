package pipeline

import (
	"context"

	"github.com/vietddude/postforge/internal/core/domain"
)

// shortening drafts and reviews a post until it fits under maxChars or
// maxIterations is reached. Each iteration after the first carries a
// ShorteningInstruction built from the previous result.
type shortening struct {
	maxChars      int
	targetChars   int
	maxIterations int

	draft  func(ctx context.Context, iteration int, instr *ShorteningInstruction) (string, error)
	review func(ctx context.Context, iteration int, draft string) (string, error)
	// measured is called with the character count of every reviewed post.
	measured func(iteration, count int)
}

type shortenResult struct {
	Post       string
	Iterations int
	Count      int
	// Exhausted is set when every iteration stayed over the limit.
	Exhausted bool
}

func (s shortening) run(ctx context.Context) (shortenResult, error) {
	var (
		instr *ShorteningInstruction
		res   shortenResult
	)
	for i := 1; i <= s.maxIterations; i++ {
		res.Iterations = i

		draft, err := s.draft(ctx, i, instr)
		if err != nil {
			return res, err
		}
		revised, err := s.review(ctx, i, draft)
		if err != nil {
			return res, err
		}

		res.Count = CountChars(revised)
		if s.measured != nil {
			s.measured(i, res.Count)
		}
		if res.Count < s.maxChars {
			res.Post = revised
			return res, nil
		}
		instr = newShorteningInstruction(res.Count, s.maxChars, s.targetChars, revised)
	}

	res.Exhausted = true
	return res, domain.NewValidation("post still %d characters after %d iterations (limit: %d)",
		res.Count, s.maxIterations, s.maxChars)
}

// substitution runs research on a topic and, when research finds no data,
// swaps in a replacement topic. At most max replacements are requested.
type substitution struct {
	max      int
	research func(ctx context.Context, topic *domain.Topic) (*Research, error)
	// replace returns a topic not in tried.
	replace func(ctx context.Context, tried []string) (*domain.Topic, error)
	notify  func(n int, failed *domain.Topic, cause error)
}

// run returns the research, the topic it belongs to and the number of
// substitutions made.
func (s substitution) run(ctx context.Context, topic *domain.Topic) (*Research, *domain.Topic, int, error) {
	tried := []string{topic.Name}
	for n := 0; ; n++ {
		research, err := s.research(ctx, topic)
		if err == nil {
			return research, topic, n, nil
		}
		if !domain.IsKind(err, domain.KindDataNotFound) {
			return nil, topic, n, err
		}
		if n >= s.max {
			return nil, topic, n, domain.NewDataNotFound("research failed after %d topic substitutions", s.max)
		}

		if s.notify != nil {
			s.notify(n+1, topic, err)
		}
		next, err := s.replace(ctx, tried)
		if err != nil {
			return nil, topic, n + 1, err
		}
		topic = next
		tried = append(tried, next.Name)
	}
}
