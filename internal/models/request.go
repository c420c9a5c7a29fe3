package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/trobanga/pacsbatch/internal/dimse"
)

// Kind is the operation a request performs against the peer
type Kind string

const (
	KindVerify   Kind = "verify"
	KindQuery    Kind = "query"
	KindRetrieve Kind = "retrieve"
)

// ParseKind accepts the operation names and their DIMSE service aliases
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verify", "c-echo", "echo":
		return KindVerify, nil
	case "query", "c-find", "find":
		return KindQuery, nil
	case "retrieve", "c-move", "move":
		return KindRetrieve, nil
	default:
		return "", fmt.Errorf("unknown request kind %q", s)
	}
}

// IsValidKind checks if a kind is one of the known operations
func IsValidKind(k Kind) bool {
	switch k {
	case KindVerify, KindQuery, KindRetrieve:
		return true
	}
	return false
}

// Request is one concrete operation of a batch. Elements are "path=value" identifier keys.
// Records are treated as immutable once built.
type Request struct {
	Elements      []string      `json:"elements" yaml:"elements"`
	Kind          Kind          `json:"kind" yaml:"kind"`
	Model         dimse.Model   `json:"model" yaml:"model"`
	ThrottleDelay time.Duration `json:"throttle_delay" yaml:"throttle_delay"`
	Workers       int           `json:"workers" yaml:"workers"`
}

// Canonical returns a copy with the elements sorted
func (r Request) Canonical() Request {
	out := r
	out.Elements = slices.Clone(r.Elements)
	slices.Sort(out.Elements)
	return out
}

// WithElement returns a copy with expr upserted by key
func (r Request) WithElement(expr string) Request {
	out := r
	out.Elements = UpsertElement(slices.Clone(r.Elements), expr)
	return out
}

// Identifier builds the query/retrieve identifier from the elements
func (r Request) Identifier() (*dimse.Dataset, error) {
	return dimse.BuildIdentifier(r.Elements)
}

// UpsertElement replaces the element whose key matches expr's key, or appends expr.
// Every element with that key is collapsed into a single entry. The backing array of elements is reused.
func UpsertElement(elements []string, expr string) []string {
	key, _, _ := dimse.SplitElement(expr)

	out := elements[:0]
	replaced := false
	for _, e := range elements {
		k, _, _ := dimse.SplitElement(e)
		if k != key {
			out = append(out, e)
			continue
		}
		if !replaced {
			out = append(out, expr)
			replaced = true
		}
	}
	if !replaced {
		out = append(out, expr)
	}
	return out
}

// Validate checks kind, model and the element expressions
func (r *Request) Validate() error {
	if !IsValidKind(r.Kind) {
		return fmt.Errorf("invalid kind: %s", r.Kind)
	}
	if r.Kind != KindVerify {
		if _, err := dimse.ParseModel(string(r.Model)); err != nil {
			return err
		}
	}
	if r.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", r.Workers)
	}
	if r.ThrottleDelay < 0 {
		return fmt.Errorf("throttle_delay cannot be negative")
	}
	for _, e := range r.Elements {
		if _, err := dimse.ParsePath(e); err != nil {
			return err
		}
	}
	return nil
}
