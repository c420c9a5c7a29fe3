package dimse

import (
	"fmt"
	"strconv"
	"strings"
)

// PathComponent is one step of an element path. Item is the sequence item index, or -1.
type PathComponent struct {
	Tag     Tag
	Keyword string
	Item    int
}

// ElementPath is a parsed "Keyword[.Keyword...][=value]" expression
type ElementPath struct {
	expr       string
	key        string
	Components []PathComponent
	Value      string
	HasValue   bool
}

// SplitElement splits "key=value" at the first '='. An expression without '=' has an empty value.
func SplitElement(expr string) (key, value string, hasValue bool) {
	key, value, hasValue = strings.Cut(expr, "=")
	return strings.TrimSpace(key), value, hasValue
}

// ParsePath parses an element path expression.
// Components are dictionary keywords, "(gggg,eeee)" or "ggggeeee" tags, optionally
// followed by "[n]" to address a sequence item.
func ParsePath(expr string) (ElementPath, error) {
	key, value, hasValue := SplitElement(expr)
	if key == "" {
		return ElementPath{}, fmt.Errorf("empty element path in %q", expr)
	}

	p := ElementPath{expr: expr, key: key, Value: value, HasValue: hasValue}
	for _, part := range splitComponents(key) {
		c, err := parseComponent(part)
		if err != nil {
			return ElementPath{}, fmt.Errorf("element path %q: %w", expr, err)
		}
		p.Components = append(p.Components, c)
	}
	return p, nil
}

// MustParsePath is ParsePath for expressions known to be valid
func MustParsePath(expr string) ElementPath {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// splitComponents splits on '.' outside of parenthesised tags
func splitComponents(key string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range key {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '.':
			if depth == 0 {
				parts = append(parts, key[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, key[start:])
}

func parseComponent(part string) (PathComponent, error) {
	part = strings.TrimSpace(part)
	c := PathComponent{Item: -1}

	if open := strings.LastIndex(part, "["); open >= 0 && strings.HasSuffix(part, "]") {
		idx, err := strconv.Atoi(part[open+1 : len(part)-1])
		if err != nil || idx < 0 {
			return c, fmt.Errorf("invalid item index in %q", part)
		}
		c.Item = idx
		part = part[:open]
	}

	if tag, ok := TagForKeyword(part); ok {
		c.Tag = tag
		c.Keyword = part
		return c, nil
	}

	tag, err := ParseTag(part)
	if err != nil {
		return c, fmt.Errorf("unknown attribute %q", part)
	}
	c.Tag = tag
	c.Keyword = KeywordForTag(tag)
	return c, nil
}

// String returns the original expression
func (p ElementPath) String() string { return p.expr }

// Key returns the path text before '='
func (p ElementPath) Key() string { return p.key }

// Tag returns the tag of the addressed attribute
func (p ElementPath) Tag() Tag {
	return p.Components[len(p.Components)-1].Tag
}

// Keyword returns the keyword of the addressed attribute, or its tag text when it has none
func (p ElementPath) Keyword() string {
	last := p.Components[len(p.Components)-1]
	if last.Keyword != "" {
		return last.Keyword
	}
	return last.Tag.String()
}

// Apply writes the path into ds, creating sequences and items on the way
func (p ElementPath) Apply(ds *Dataset) {
	current := ds
	for i, c := range p.Components {
		last := i == len(p.Components)-1
		if last && c.Item < 0 {
			if _, exists := current.Get(c.Tag); exists && !p.HasValue {
				return
			}
			current.Set(c.Tag, p.Value)
			return
		}

		seq := current.Sequence(c.Tag)
		idx := c.Item
		if idx < 0 {
			idx = 0
		}
		for len(seq.Items) <= idx {
			seq.Items = append(seq.Items, NewDataset())
		}
		if last {
			return
		}
		current = seq.Items[idx]
	}
}

// Resolve reads the addressed value from ds
func (p ElementPath) Resolve(ds *Dataset) (string, bool) {
	current := ds
	for i, c := range p.Components {
		e, ok := current.Get(c.Tag)
		if !ok {
			return "", false
		}
		if i == len(p.Components)-1 && c.Item < 0 {
			return e.Value, true
		}
		idx := c.Item
		if idx < 0 {
			idx = 0
		}
		if idx >= len(e.Items) {
			return "", false
		}
		current = e.Items[idx]
	}
	return "", false
}

// BuildIdentifier creates an identifier dataset from element expressions
func BuildIdentifier(elements []string) (*Dataset, error) {
	ds := NewDataset()
	for _, expr := range elements {
		p, err := ParsePath(expr)
		if err != nil {
			return nil, err
		}
		p.Apply(ds)
	}
	return ds, nil
}
