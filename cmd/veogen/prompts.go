package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"veogen/internal/generator"
)

// promptEntry is one prompt and its optional seed image.
type promptEntry struct {
	Prompt string
	Image  string
}

// promptFile is the JSON prompt list layout:
// {"prompts": ["...", {"prompt": "...", "image": "cat.jpg"}]}.
type promptFile struct {
	Prompts []json.RawMessage `json:"prompts"`
}

// readPrompts loads prompts from a .json file or a text file with one prompt
// per line. Blank lines and lines starting with '#' are skipped. Relative
// image paths in a JSON file resolve against the file's directory.
func readPrompts(path string) ([]promptEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseJSONPrompts(f, filepath.Dir(path))
	}
	return parseTextPrompts(f)
}

func parseTextPrompts(r io.Reader) ([]promptEntry, error) {
	var prompts []promptEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, promptEntry{Prompt: line})
	}
	return prompts, sc.Err()
}

// parseJSONPrompts accepts plain strings or objects with a "prompt" field and
// an optional "image" field.
func parseJSONPrompts(r io.Reader, baseDir string) ([]promptEntry, error) {
	var pf promptFile
	if err := json.NewDecoder(r).Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode prompt file: %w", err)
	}
	prompts := make([]promptEntry, 0, len(pf.Prompts))
	for i, raw := range pf.Prompts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			prompts = append(prompts, promptEntry{Prompt: s})
			continue
		}
		var obj struct {
			Prompt string `json:"prompt"`
			Image  string `json:"image"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Prompt == "" {
			return nil, fmt.Errorf("prompts[%d]: expected a string or an object with a prompt", i)
		}
		image := strings.TrimSpace(obj.Image)
		if image != "" && !filepath.IsAbs(image) {
			image = filepath.Join(baseDir, image)
		}
		prompts = append(prompts, promptEntry{Prompt: obj.Prompt, Image: image})
	}
	return prompts, nil
}

// batchInputs splits entries into batch prompts and per-index image overrides.
func batchInputs(entries []promptEntry) ([]string, map[int]generator.RequestOverride) {
	prompts := make([]string, len(entries))
	var overrides map[int]generator.RequestOverride
	for i, e := range entries {
		prompts[i] = e.Prompt
		if e.Image == "" {
			continue
		}
		if overrides == nil {
			overrides = map[int]generator.RequestOverride{}
		}
		overrides[i] = generator.RequestOverride{ImagePath: e.Image}
	}
	return prompts, overrides
}
