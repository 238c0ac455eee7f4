package senza

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned when a senza definition cannot be
// parsed or lacks the mandatory SenzaInfo header.
var ErrInvalidDefinition = errors.New("invalid senza definition")

// Definition is the subset of a senza definition lizzy needs to see. The
// rest of the document is senza's business and passes through untouched.
type Definition struct {
	SenzaInfo SenzaInfo `yaml:"SenzaInfo"`
}

// SenzaInfo mirrors the header block of a senza definition.
type SenzaInfo struct {
	StackName  string           `yaml:"StackName"`
	Parameters []map[string]any `yaml:"Parameters"`
}

// ParseDefinition decodes the SenzaInfo header of a definition document.
func ParseDefinition(definition string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(definition), &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	if strings.TrimSpace(def.SenzaInfo.StackName) == "" {
		return nil, fmt.Errorf("%w: missing SenzaInfo.StackName", ErrInvalidDefinition)
	}

	return &def, nil
}
