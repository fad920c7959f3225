package pipeline

import (
	"context"
	"strings"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/execution/fallback"
	"github.com/vietddude/postforge/internal/infra/artifact"
	"github.com/vietddude/postforge/internal/infra/generation"
	"github.com/vietddude/postforge/internal/infra/storage"
	"github.com/vietddude/postforge/internal/metrics"
)

func (r *runner) execute(ctx context.Context) (string, error) {
	if err := r.initialize(ctx); err != nil {
		return "", err
	}

	topic, err := r.selectTopic(ctx, nil)
	if err != nil {
		return "", err
	}

	research, err := r.researchWithSubstitution(ctx, topic)
	if err != nil {
		return "", err
	}

	brief, err := r.structuredPrompt(ctx, research)
	if err != nil {
		return "", err
	}

	post, err := r.writeAndReview(ctx, brief)
	if err != nil {
		return "", err
	}

	imagePrompt, err := r.imagePrompt(ctx, post)
	if err != nil {
		return "", err
	}

	if err := r.image(ctx, imagePrompt); err != nil {
		return "", err
	}
	return post, nil
}

func (r *runner) initialize(ctx context.Context) error {
	r.setStep(StepInitialization)

	rc := RunConfig{
		RunID:      r.run.ID,
		Field:      r.cfg.Category,
		DryRun:     r.cfg.DryRun,
		TextModel:  r.cfg.TextModel,
		ImageModel: r.cfg.ImageModel,
		CreatedAt:  r.run.Metrics.StartTime.UTC(),
	}
	if _, err := r.store.WriteJSON(artifact.ConfigFile, rc); err != nil {
		r.mu.Lock()
		r.failedStep = StepInitialization
		r.mu.Unlock()
		return err
	}
	r.event(ctx, StepInitialization, 1, domain.StepStatusOK, "", nil)
	return nil
}

// selectTopic picks an unused topic from the repository, falling back to
// asking the generator for candidates.
func (r *runner) selectTopic(ctx context.Context, exclude []string) (*domain.Topic, error) {
	attempt := 0
	topic, err := runStep(ctx, r, AgentTopic, func(ctx context.Context) (*domain.Topic, error) {
		attempt++
		t, err := r.deps.Topics.SelectTopic(ctx, r.cfg.Category, exclude)
		if err != nil {
			return nil, domain.Wrap(domain.KindTransient, err, "select topic")
		}
		if t != nil {
			return t, nil
		}
		r.log.Info("No stored topic available, generating candidates", "category", r.cfg.Category)
		return r.generateTopic(ctx, exclude)
	})
	if err != nil {
		return nil, err
	}

	rec := topicRecord{Topic: topic.Name, Field: topic.Category, Source: topic.Source, Attempts: attempt}
	if _, err := r.store.WriteJSON(artifact.TopicFile, rec); err != nil {
		return nil, err
	}

	r.topic = topic
	r.log.Info("Topic selected", "topic", topic.Name, "source", topic.Source)
	return topic, nil
}

func (r *runner) generateTopic(ctx context.Context, exclude []string) (*domain.Topic, error) {
	recent, err := r.deps.Topics.RecentTopics(ctx, storage.RecentWindow)
	if err != nil {
		r.log.Warn("Failed to load recent topics", "error", err)
	}
	avoid := storage.Excluded(recent, exclude)

	avoidList := make([]string, 0, len(avoid))
	for name := range avoid {
		avoidList = append(avoidList, name)
	}

	text, err := r.generateText(ctx, AgentTopic, generation.TextRequest{
		Task:   generation.TaskTopic,
		Prompt: topicPrompt(r.cfg.Category, avoidList),
	})
	if err != nil {
		return nil, err
	}

	name, ok, err := pickTopic(text, avoid)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, err, "parse generated topics")
	}
	if !ok {
		return nil, domain.NewDataNotFound("no unused topic available for %q", r.cfg.Category)
	}
	return &domain.Topic{Name: name, Category: r.cfg.Category, Source: domain.TopicSourceGenerated}, nil
}

// pickTopic chooses a candidate from model output, preferring net-new
// topics over reused ones.
func pickTopic(text string, avoid map[string]bool) (string, bool, error) {
	var wrapped struct {
		Topics []topicCandidate `json:"topics"`
	}
	var candidates []topicCandidate
	if err := decodeModelJSON(text, &wrapped); err == nil && len(wrapped.Topics) > 0 {
		candidates = wrapped.Topics
	} else if err := decodeModelJSON(text, &candidates); err != nil {
		return "", false, err
	}

	for _, novelty := range []string{noveltyNetNew, noveltyReused, ""} {
		for _, c := range candidates {
			name := strings.TrimSpace(c.Topic)
			if name == "" || avoid[name] {
				continue
			}
			if novelty == "" || c.Novelty == novelty {
				return name, true, nil
			}
		}
	}
	return "", false, nil
}

func (r *runner) researchWithSubstitution(ctx context.Context, topic *domain.Topic) (*Research, error) {
	loop := substitution{
		max:      r.cfg.MaxSubstitutions,
		research: r.research,
		replace: func(ctx context.Context, tried []string) (*domain.Topic, error) {
			return r.selectTopic(ctx, tried)
		},
		notify: func(n int, failed *domain.Topic, cause error) {
			r.log.Warn("Research found no data, substituting topic", "topic", failed.Name, "substitution", n, "error", cause)
			metrics.TopicSubstitutions.Inc()
			r.mu.Lock()
			r.run.Metrics.TopicSubstitutions = n
			r.mu.Unlock()
			r.event(ctx, eventTopicSubstitution, n, domain.StepStatusInfo, domain.KindDataNotFound.String(), nil)
		},
	}

	research, final, _, err := loop.run(ctx, topic)
	if err != nil {
		return nil, err
	}
	r.topic = final
	return research, nil
}

func (r *runner) research(ctx context.Context, topic *domain.Topic) (*Research, error) {
	research, err := runStep(ctx, r, AgentResearch, func(ctx context.Context) (*Research, error) {
		text, err := r.generateText(ctx, AgentResearch, generation.TextRequest{
			Task:    generation.TaskResearch,
			Prompt:  researchPrompt(topic.Name),
			Subject: topic.Name,
		})
		if err != nil {
			return nil, err
		}

		var res Research
		if err := decodeModelJSON(text, &res); err != nil {
			return nil, domain.Wrap(domain.KindTransient, err, "parse research")
		}
		if len(res.Sources) == 0 {
			return nil, domain.NewDataNotFound("no sources found for topic %q", topic.Name)
		}
		if res.Topic == "" {
			res.Topic = topic.Name
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.store.WriteJSON(artifact.ResearchFile, research); err != nil {
		return nil, err
	}
	return research, nil
}

func (r *runner) structuredPrompt(ctx context.Context, research *Research) (Brief, error) {
	brief, err := runStep(ctx, r, AgentPromptGenerator, func(ctx context.Context) (Brief, error) {
		text, err := r.generateText(ctx, AgentPromptGenerator, generation.TextRequest{
			Task:    generation.TaskStructuredPrompt,
			Prompt:  briefPrompt(research.Topic, research),
			Subject: research.Topic,
		})
		if err != nil {
			return Brief{}, err
		}

		var b Brief
		if err := decodeModelJSON(text, &b); err != nil {
			return Brief{}, domain.Wrap(domain.KindTransient, err, "parse structured prompt")
		}
		if missing := b.Missing(); len(missing) > 0 {
			return Brief{}, domain.NewValidation("structured prompt missing required fields: %s", strings.Join(missing, ", "))
		}
		return b, nil
	})
	if err != nil {
		return Brief{}, err
	}

	if _, err := r.store.WriteJSON(artifact.StructuredPromptFile, brief); err != nil {
		return Brief{}, err
	}
	return brief, nil
}

// writeAndReview runs the shortening loop and applies the template
// fallbacks when the writer cannot deliver.
func (r *runner) writeAndReview(ctx context.Context, brief Brief) (string, error) {
	loop := shortening{
		maxChars:      r.cfg.MaxChars,
		targetChars:   r.cfg.TargetChars,
		maxIterations: r.cfg.MaxIterations,
		draft: func(ctx context.Context, iteration int, instr *ShorteningInstruction) (string, error) {
			return r.draft(ctx, brief, instr)
		},
		review: r.review,
		measured: func(iteration, count int) {
			r.mu.Lock()
			r.run.Metrics.ShorteningIterations = iteration
			r.mu.Unlock()
			r.event(ctx, eventCharCount, iteration, domain.StepStatusInfo, "", map[string]int{"char_count": count})
		},
	}

	res, err := loop.run(ctx)
	metrics.ShorteningIterations.Observe(float64(res.Iterations))

	post := res.Post
	var reason domain.FallbackReason
	if err != nil {
		post, reason, err = r.templateFallback(ctx, brief, res, err)
		if err != nil {
			return "", err
		}
	}

	if _, err := r.store.WriteText(artifact.FinalPostFile, post); err != nil {
		return "", err
	}
	rec := finalPostRecord{
		CharCount:      CountChars(post),
		Iterations:     res.Iterations,
		Template:       reason != "",
		FallbackReason: reason,
	}
	if _, err := r.store.WriteJSON(artifact.FinalPostRecordFile, rec); err != nil {
		return "", err
	}
	r.log.Info("Final post ready", "chars", rec.CharCount, "iterations", res.Iterations, "template", rec.Template)
	return post, nil
}

// templateFallback offers the deterministic post when the loop ran out of
// iterations or the writer kept failing, including when its failures tripped
// the breaker. Other errors pass through.
func (r *runner) templateFallback(ctx context.Context, brief Brief, res shortenResult, cause error) (string, domain.FallbackReason, error) {
	if !r.cfg.TemplateFallback {
		return "", "", cause
	}

	var reason domain.FallbackReason
	switch {
	case res.Exhausted:
		reason = domain.ReasonCharacterLimit
	case r.lastFailedStep() == AgentWriter &&
		(domain.IsKind(cause, domain.KindTransient) || domain.IsKind(cause, domain.KindCircuitOpen)):
		reason = domain.ReasonModelError
	default:
		return "", "", cause
	}

	err := r.gate.Request(ctx, fallback.Request{
		Agent:     AgentWriter,
		Reason:    reason,
		Step:      AgentWriter,
		Objective: "Write a LinkedIn post on " + brief.TopicTitle,
		Err:       cause,
	})
	approved := err == nil
	metrics.Fallbacks.WithLabelValues(string(reason), boolLabel(approved)).Inc()
	if !approved {
		return "", "", err
	}

	r.mu.Lock()
	r.failedStep = ""
	r.mu.Unlock()
	// The writer's failures must not block the image steps.
	r.breaker.RecordSuccess()

	post := FallbackPost(brief, r.cfg.MaxChars)
	r.log.Warn("Using template post", "reason", reason, "chars", CountChars(post))
	return post, reason, nil
}

func (r *runner) draft(ctx context.Context, brief Brief, instr *ShorteningInstruction) (string, error) {
	draft, err := runStep(ctx, r, AgentWriter, func(ctx context.Context) (string, error) {
		text, err := r.generateText(ctx, AgentWriter, generation.TextRequest{
			Task:              generation.TaskDraft,
			Prompt:            draftPrompt(brief, r.cfg.MaxChars, r.cfg.Blacklist, instr),
			SystemInstruction: personaInstruction,
			Subject:           brief.TopicTitle,
		})
		if err != nil {
			return "", err
		}
		text, hits := ScrubPhrases(strings.TrimSpace(text), r.cfg.Blacklist)
		if hits > 0 {
			r.log.Info("Removed blacklisted phrases from draft", "count", hits)
		}
		if text == "" {
			return "", domain.NewTransient("writer returned an empty draft")
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}

	if _, err := r.store.WriteText(artifact.DraftFile, draft); err != nil {
		return "", err
	}
	return draft, nil
}

func (r *runner) review(ctx context.Context, iteration int, draft string) (string, error) {
	rec, err := runStep(ctx, r, AgentReviewer, func(ctx context.Context) (reviewRecord, error) {
		text, err := r.generateText(ctx, AgentReviewer, generation.TextRequest{
			Task:    generation.TaskReview,
			Prompt:  reviewPrompt(draft, r.cfg.MaxChars),
			Subject: draft,
		})
		if err != nil {
			return reviewRecord{}, err
		}

		revised, hits := ScrubPhrases(strings.TrimSpace(text), r.cfg.Blacklist)
		if revised == "" {
			return reviewRecord{}, domain.NewTransient("reviewer returned an empty post")
		}
		rec := reviewRecord{
			Iteration:        iteration,
			OriginalChars:    CountChars(draft),
			BlacklistRemoved: hits,
		}
		if CountChars(revised) >= r.cfg.MaxChars {
			revised, rec.HashtagsRemoved = TrimTrailingHashtags(revised)
		}
		rec.Revised = revised
		rec.CharCount = CountChars(revised)
		return rec, nil
	})
	if err != nil {
		return "", err
	}

	if _, err := r.store.WriteJSON(artifact.ReviewFile, rec); err != nil {
		return "", err
	}
	return rec.Revised, nil
}

func (r *runner) imagePrompt(ctx context.Context, post string) (string, error) {
	prompt, err := runStep(ctx, r, AgentImagePrompt, func(ctx context.Context) (string, error) {
		text, err := r.generateText(ctx, AgentImagePrompt, generation.TextRequest{
			Task:    generation.TaskImagePrompt,
			Prompt:  imagePromptPrompt(post),
			Subject: post,
		})
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", domain.NewTransient("image prompt generator returned nothing")
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}

	if _, err := r.store.WriteText(artifact.ImagePromptFile, prompt); err != nil {
		return "", err
	}
	return prompt, nil
}

func (r *runner) image(ctx context.Context, prompt string) error {
	_, err := runStep(ctx, r, AgentImageGenerator, func(ctx context.Context) (generation.ImageResult, error) {
		res, err := r.generateImage(ctx, AgentImageGenerator, generation.ImageRequest{Prompt: prompt})
		if err != nil {
			return res, err
		}
		// Written only once the call is paid for.
		if _, err := r.store.WriteAndVerify(artifact.ImageFile, res.Data); err != nil {
			return res, err
		}
		return res, nil
	})
	return err
}

func (r *runner) lastFailedStep() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedStep
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
