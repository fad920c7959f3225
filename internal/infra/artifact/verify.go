package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Verifier checks that the file at path is present and well formed.
type Verifier func(path string) error

// VerifierFor picks a verifier from the artifact's extension.
func VerifierFor(name string) Verifier {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return verifyJSON
	case ".jsonl":
		return verifyJSONLines
	case ".png":
		return verifyPNG
	default:
		return verifyText
	}
}

func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return data, nil
}

func verifyJSON(path string) error {
	data, err := readNonEmpty(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func verifyJSONLines(path string) error {
	data, err := readNonEmpty(path)
	if err != nil {
		return err
	}
	for i, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if !json.Valid(line) {
			return fmt.Errorf("parse %s line %d: invalid json", filepath.Base(path), i+1)
		}
	}
	return nil
}

func verifyPNG(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := png.DecodeConfig(f); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func verifyText(path string) error {
	data, err := readNonEmpty(path)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("%s is not valid utf-8", filepath.Base(path))
	}
	return nil
}
