package pipeline

import (
	"fmt"
	"strings"
)

const personaInstruction = `You are the Witty Expert: a senior practitioner who explains hard technical ideas
with one memorable analogy, concrete numbers and zero hype. You write for busy engineers and their
managers on LinkedIn. Short paragraphs, white space, **bold** for emphasis. Never mention newsletters
or communities, never use clichés such as "game-changer" or "in today's fast-paced world".`

func topicPrompt(field string, avoid []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest 5 LinkedIn post topics for the field %q.\n\n", field)
	if len(avoid) > 0 {
		b.WriteString("Do not repeat any of these recent topics:\n")
		for _, t := range avoid {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Return only JSON of the form:
{"topics": [{"topic": "...", "novelty": "net_new", "rationale": "..."}]}
"novelty" is either "net_new" or "reused_with_new_angle".`)
	return b.String()
}

func researchPrompt(topic string) string {
	return fmt.Sprintf(`Research the topic %q for a LinkedIn post aimed at practitioners.

Find 2 to 5 credible, recent sources. For each give the title, the URL and one key finding with a
number where possible. Then summarise the common thread in two sentences.

Return only JSON of the form:
{"topic": "...", "sources": [{"title": "...", "url": "...", "key_finding": "..."}], "summary": "..."}
Return an empty "sources" list if nothing credible exists.`, topic)
}

func briefPrompt(topic string, r *Research) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn this research on %q into a brief for a LinkedIn post.\n\n", topic)
	fmt.Fprintf(&b, "Summary: %s\n\nSources:\n", r.Summary)
	for _, s := range r.Sources {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Title, s.URL, s.KeyFinding)
	}
	b.WriteString(`
Return only JSON with these fields:
{"topic_title": "...", "target_audience": "...", "pain_point": "...", "key_metrics": ["..."],
 "analogy": "...", "solution_outline": "...", "code_snippet": "optional"}
The analogy must come from everyday life, not from technology.`)
	return b.String()
}

func draftPrompt(brief Brief, maxChars int, phrases []string, instr *ShorteningInstruction) string {
	var b strings.Builder
	b.WriteString("Generate a LinkedIn post using the Witty Expert persona.\n\n")
	fmt.Fprintf(&b, "**Topic:** %s\n\n", brief.TopicTitle)
	fmt.Fprintf(&b, "**Target Audience:** %s\n\n", brief.TargetAudience)
	fmt.Fprintf(&b, "**Audience's Core Pain Point:** %s\n\n", brief.PainPoint)
	fmt.Fprintf(&b, "**Key Metrics/Facts:** %s\n\n", strings.Join(brief.KeyMetrics, ", "))
	fmt.Fprintf(&b, "**The Perfect Analogy:** %s\n\n", brief.Analogy)
	fmt.Fprintf(&b, "**The Simple Solution/Code Snippet:**\n%s\n", brief.SolutionOutline)
	if brief.CodeSnippet != "" {
		fmt.Fprintf(&b, "%s\n", brief.CodeSnippet)
	}
	b.WriteString("\n**Critical Requirements:**\n")
	b.WriteString("- Follow the structure: Hook, Problem, Solution, Impact, Action, Sign-off\n")
	b.WriteString("- Use the provided analogy as the central metaphor throughout the post\n")
	b.WriteString("- Include quantifiable impact from the key metrics\n")
	fmt.Fprintf(&b, "- Keep the post UNDER %d characters (excluding line breaks)\n", maxChars)
	for _, p := range phrases {
		fmt.Fprintf(&b, "- Do NOT mention %q\n", p)
	}

	if instr != nil {
		fmt.Fprintf(&b, "\n**IMPORTANT: Character Count Issue**\n%s\n", instr.Message)
		if instr.Previous != "" {
			fmt.Fprintf(&b, "The previous draft was:\n\n---\n%s\n---\n", instr.Previous)
		}
		b.WriteString("Keep the same core message, hook, analogy and metrics. Cut elaboration, not substance.\n")
	}

	b.WriteString("\nGenerate the complete LinkedIn post now.")
	return b.String()
}

func reviewPrompt(draft string, maxChars int) string {
	return fmt.Sprintf(`Review this LinkedIn post for coherence, grammar and flow. Keep the voice, structure
and length; fix only what is wrong. The result must stay under %d characters excluding line breaks.
Do NOT include hashtags at the end. Return only the revised post.

---
%s
---`, maxChars, draft)
}

func imagePromptPrompt(post string) string {
	return fmt.Sprintf(`Write a single prompt for an image model to illustrate this LinkedIn post.
Describe one clear scene built on the post's central analogy. Flat, modern illustration style, no text
or logos in the image. Return only the prompt.

---
%s
---`, post)
}
