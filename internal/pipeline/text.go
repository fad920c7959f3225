package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fallbackBuffer keeps the template post this far below the limit.
const fallbackBuffer = 50

// CountChars counts the characters of a post the way the publishing
// platform does: every rune except line breaks.
func CountChars(text string) int {
	n := 0
	for _, r := range text {
		if r != '\n' && r != '\r' {
			n++
		}
	}
	return n
}

var (
	multiSpace   = regexp.MustCompile(` {2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// ScrubPhrases removes every occurrence of the given phrases, together with a
// leading dash, and tidies the whitespace left behind. It returns the number
// of removals.
func ScrubPhrases(text string, phrases []string) (string, int) {
	hits := 0
	for _, phrase := range phrases {
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)[ \t]*(?:\n[ \t]*)*[-—–]?[ \t]*` + regexp.QuoteMeta(phrase) + `\s*`)
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			hits++
			if strings.Contains(m, "\n") {
				return "\n\n"
			}
			return " "
		})
	}
	if hits == 0 {
		return text, 0
	}
	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, " \n", "\n")
	text = strings.ReplaceAll(text, "\n ", "\n")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), hits
}

// TrimTrailingHashtags drops the block of hashtag-only lines at the end of a
// post.
func TrimTrailingHashtags(text string) (string, bool) {
	lines := strings.Split(strings.TrimRight(text, "\n "), "\n")
	end := len(lines)
	removed := false
	for end > 0 {
		line := strings.TrimSpace(lines[end-1])
		if line == "" {
			end--
			continue
		}
		if !isHashtagLine(line) {
			break
		}
		removed = true
		end--
	}
	if !removed {
		return text, false
	}
	return strings.TrimRight(strings.Join(lines[:end], "\n"), "\n "), true
}

func isHashtagLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !strings.HasPrefix(f, "#") || len(f) < 2 {
			return false
		}
	}
	return true
}

// TruncateChars cuts text to at most limit counted characters.
func TruncateChars(text string, limit int) string {
	if CountChars(text) <= limit {
		return text
	}
	var b strings.Builder
	n := 0
	for _, r := range text {
		if r != '\n' && r != '\r' {
			if n == limit {
				break
			}
			n++
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// FallbackPost renders the deterministic template post for a brief. It is
// always shorter than maxChars.
func FallbackPost(b Brief, maxChars int) string {
	topic := orDefault(b.TopicTitle, "Practical Engineering Insight")
	pain := orDefault(b.PainPoint, "Teams struggle to balance speed, quality, and cost.")
	solution := orDefault(b.SolutionOutline, "Share a three-step approach with a small code or config example.")
	impact := "measurable gains"
	if len(b.KeyMetrics) > 0 {
		impact = strings.Join(b.KeyMetrics, ", ")
	}

	post := fmt.Sprintf(`**%s: A fast, clear take**

Hook: A quick gut-check on something we keep over-complicating.

Problem: %s It slows momentum and frustrates teams.

Solution: %s

Impact: Expect %s when you implement this calmly and consistently.

Action: Try it today, share what broke, and keep the iteration tight.`, topic, pain, solution, impact)

	limit := maxChars - fallbackBuffer
	if limit < 1 {
		limit = maxChars
	}
	if CountChars(post) >= limit {
		post = TruncateChars(post, limit-1)
	}
	return post
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// decodeModelJSON decodes JSON produced by a model, tolerating code fences
// and prose around the object.
func decodeModelJSON(text string, v any) error {
	body := stripFences(text)
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(body, pair[0])
		end := strings.LastIndex(body, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(body[start:end+1]), v); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no JSON value in model output (%d bytes)", len(text))
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one != "" {
		*l = []string{one}
	}
	return nil
}
