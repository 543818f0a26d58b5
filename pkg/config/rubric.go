package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rubric errors.
var (
	ErrUnsupportedRubric = errors.New("unsupported rubric format")
	ErrEmptyRubric       = errors.New("rubric is empty")
)

// Rubric is a competition rubric in its generic form. Its content is opaque
// to the batch core: it is hashed for drift detection and forwarded to the
// analyzer as JSON.
type Rubric map[string]any

// LoadRubric reads a .json, .yaml or .yml rubric file.
func LoadRubric(path string) (Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}

	var rubric Rubric

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()

		err = decoder.Decode(&rubric)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rubric)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRubric, ext)
	}

	if err != nil {
		return nil, fmt.Errorf("parse rubric %s: %w", path, err)
	}

	if len(rubric) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRubric, path)
	}

	return rubric, nil
}

// JSON returns the rubric as compact JSON with sorted keys.
func (r Rubric) JSON() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal rubric: %w", err)
	}

	return data, nil
}

// String returns the value at key when it is a string.
func (r Rubric) String(key string) string {
	s, _ := r[key].(string)

	return s
}
