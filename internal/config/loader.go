package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"learnassist/src/model"

	"gopkg.in/yaml.v3"
)

// ModesFile represents the structure of modes.yaml
type ModesFile struct {
	Modes map[model.Mode]ModeConfig `yaml:"modes"`
	// Tokens maps task tokens that are not kind names, such as client
	// shortcuts, to the kind they trigger.
	Tokens map[string]model.Kind `yaml:"tokens"`
}

type ModeConfig struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Kinds       []model.Kind `yaml:"kinds"`
	Limits      ModeLimits   `yaml:"limits"`
}

type ModeLimits struct {
	MaxContentLength int `yaml:"max_content_length"`
}

// DefaultModes is used when no modes file exists.
func DefaultModes() *ModesFile {
	return &ModesFile{
		Modes: map[model.Mode]ModeConfig{
			model.ModeLiterature: {
				Name:        "Literature",
				Description: "Essays, reading and language practice",
				Kinds: []model.Kind{
					model.KindGrammarCheck,
					model.KindPolish,
					model.KindStructureAnalysis,
					model.KindHealthScore,
					model.KindChat,
				},
				Limits: ModeLimits{MaxContentLength: 50000},
			},
			model.ModeScience: {
				Name:        "Science",
				Description: "Math, physics and step-by-step problem solving",
				Kinds: []model.Kind{
					model.KindMathValidation,
					model.KindLogicTree,
					model.KindDebug,
					model.KindChat,
				},
				Limits: ModeLimits{MaxContentLength: 50000},
			},
		},
		Tokens: map[string]model.Kind{
			"validate_steps":   model.KindMathValidation,
			"build_logic_tree": model.KindLogicTree,
			"debug_mode":       model.KindDebug,
		},
	}
}

// LoadModes loads the mode allow-lists from path. A missing file yields
// DefaultModes.
func LoadModes(path string) (*ModesFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultModes(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading modes file: %w", err)
	}

	var modes ModesFile
	if err := yaml.Unmarshal(data, &modes); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}
	if err := modes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modes file %s: %w", path, err)
	}
	return &modes, nil
}

// Validate checks that every mode and kind named in the file is known.
func (m *ModesFile) Validate() error {
	if len(m.Modes) == 0 {
		return errors.New("no modes defined")
	}
	for mode, cfg := range m.Modes {
		if !mode.Valid() {
			return fmt.Errorf("unknown mode %q", mode)
		}
		if len(cfg.Kinds) == 0 {
			return fmt.Errorf("mode %s allows no kinds", mode)
		}
		for _, kind := range cfg.Kinds {
			if !kind.Valid() {
				return fmt.Errorf("mode %s: unknown kind %q", mode, kind)
			}
		}
	}
	for token, kind := range m.Tokens {
		if !kind.Valid() {
			return fmt.Errorf("token %s: unknown kind %q", token, kind)
		}
	}
	return nil
}
