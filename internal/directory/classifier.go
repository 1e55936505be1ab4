package directory

import (
	"errors"
	"fmt"
	"regexp"

	"phototree/internal/models"
)

var (
	// ErrNoMatchingType is wrapped by every ClassificationError
	ErrNoMatchingType = errors.New("no album type matches path")
	// ErrInvalidPattern is returned when a rule's path pattern does not compile
	ErrInvalidPattern = errors.New("invalid album type pattern")
)

// ClassificationError is returned when no rule matches a path. The library
// is inconsistent with its type rules and the album cannot be created.
type ClassificationError struct {
	Path string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("could not determine type of album %q", e.Path)
}

func (e *ClassificationError) Unwrap() error {
	return ErrNoMatchingType
}

type compiledRule struct {
	albumType models.AlbumType
	pattern   *regexp.Regexp
}

// Classifier evaluates an ordered list of album type rules. The first rule
// whose pattern matches wins, so rule order encodes precedence.
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles the given rules, preserving their order
func NewClassifier(types []models.AlbumType) (*Classifier, error) {
	rules := make([]compiledRule, 0, len(types))
	for _, t := range types {
		re, err := regexp.Compile(t.PathMatch)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (%s): %v", ErrInvalidPattern, t.Name, t.PathMatch, err)
		}
		rules = append(rules, compiledRule{albumType: t, pattern: re})
	}
	return &Classifier{rules: rules}, nil
}

// Classify returns the first type whose pattern matches path
func (c *Classifier) Classify(path string) (models.AlbumType, error) {
	for _, r := range c.rules {
		if r.pattern.MatchString(path) {
			return r.albumType, nil
		}
	}
	return models.AlbumType{}, &ClassificationError{Path: path}
}

// Classify compiles rules and classifies path in one step
func Classify(path string, types []models.AlbumType) (models.AlbumType, error) {
	c, err := NewClassifier(types)
	if err != nil {
		return models.AlbumType{}, err
	}
	return c.Classify(path)
}
