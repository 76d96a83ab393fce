package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseFile loads a pipeline definition from disk, validates it, and
// returns the resulting model.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sferrors.NewParseError(path, 0, err)
	}
	cfg, err := ParseBytes(data)
	if err != nil {
		if perr, ok := err.(*sferrors.ParseError); ok {
			perr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// ParseBytes parses and validates an in-memory pipeline definition.
func ParseBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, sferrors.NewParseError("", extractLine(err), err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
