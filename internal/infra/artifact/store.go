package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Step artifact names, in pipeline order.
const (
	ConfigFile           = "00_config.json"
	TopicFile            = "10_topic.json"
	ResearchFile         = "20_research.json"
	StructuredPromptFile = "25_structured_prompt.json"
	DraftFile            = "40_draft.md"
	ReviewFile           = "50_review.json"
	FinalPostFile        = "60_final_post.txt"
	FinalPostRecordFile  = "61_final_post.json"
	ImagePromptFile      = "70_image_prompt.txt"
	ImageFile            = "80_image.png"
	FailureFile          = "run_failed.json"
	SummaryFile          = "run_summary.json"
	FallbackLogFile      = "fallback_warnings.jsonl"
)

// Store persists the artifacts of a single run directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute location of an artifact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// WriteAndVerify writes content atomically and proves it can be read back.
// Content that fails verification never replaces the destination.
func (s *Store) WriteAndVerify(name string, content []byte) (string, error) {
	path := s.Path(name)
	verify := VerifierFor(name)

	tmpName, err := writeTemp(path, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
	if err != nil {
		return "", domain.Wrap(domain.KindCorruption, err, "write "+name)
	}

	if err := verify(tmpName); err != nil {
		os.Remove(tmpName)
		return "", domain.Wrap(domain.KindCorruption, err, "verify "+name)
	}
	if err := commit(tmpName, path); err != nil {
		return "", domain.Wrap(domain.KindCorruption, err, "commit "+name)
	}
	if err := verify(path); err != nil {
		return "", domain.Wrap(domain.KindCorruption, err, "verify "+name)
	}
	return path, nil
}

// WriteJSON marshals v with indentation and writes it with WriteAndVerify.
func (s *Store) WriteJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, err, "marshal "+name)
	}
	return s.WriteAndVerify(name, append(data, '\n'))
}

// WriteText writes a text artifact with WriteAndVerify.
func (s *Store) WriteText(name, text string) (string, error) {
	return s.WriteAndVerify(name, []byte(text))
}

// Verify checks an artifact already on disk.
func (s *Store) Verify(name string) error {
	if err := VerifierFor(name)(s.Path(name)); err != nil {
		return domain.Wrap(domain.KindCorruption, err, "verify "+name)
	}
	return nil
}

// ReadJSON decodes an artifact into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// List returns the artifact names in the run directory, sorted. Temp files
// are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
