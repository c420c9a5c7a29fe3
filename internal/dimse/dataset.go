// Package dimse declares the boundary to the DICOM network service provider:
// identifiers and datasets, statuses, sessions, the storage listener, and the
// element path expressions used to build identifiers from configuration.
package dimse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tag identifies an attribute as group<<16 | element
type Tag uint32

// NewTag builds a tag from its group and element numbers
func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

// Group returns the group number
func (t Tag) Group() uint16 { return uint16(t >> 16) }

// Element returns the element number
func (t Tag) Element() uint16 { return uint16(t) }

// String renders the tag as (gggg,eeee)
func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// ParseTag accepts "(gggg,eeee)", "gggg,eeee" and "ggggeeee"
func ParseTag(s string) (Tag, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	raw = strings.ReplaceAll(raw, ",", "")
	if len(raw) != 8 {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q: %w", s, err)
	}
	return Tag(v), nil
}

// Element is one attribute of a dataset. Sequence attributes carry Items instead of a Value.
type Element struct {
	Tag     Tag
	Keyword string
	Value   string
	Items   []*Dataset
}

// IsSequence reports whether the element holds sequence items
func (e *Element) IsSequence() bool {
	return e.Items != nil
}

// Dataset is an ordered attribute set, kept sorted by tag
type Dataset struct {
	elements []*Element
}

// NewDataset returns an empty dataset
func NewDataset() *Dataset {
	return &Dataset{}
}

// Len returns the number of top-level elements
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.elements)
}

// Elements returns the top-level elements in tag order
func (d *Dataset) Elements() []*Element {
	if d == nil {
		return nil
	}
	out := make([]*Element, len(d.elements))
	copy(out, d.elements)
	return out
}

// Get returns the element with the given tag
func (d *Dataset) Get(tag Tag) (*Element, bool) {
	if d == nil {
		return nil, false
	}
	i := d.search(tag)
	if i < len(d.elements) && d.elements[i].Tag == tag {
		return d.elements[i], true
	}
	return nil, false
}

// Value returns the string value of the element with the given tag
func (d *Dataset) Value(tag Tag) (string, bool) {
	e, ok := d.Get(tag)
	if !ok {
		return "", false
	}
	return e.Value, true
}

// Lookup returns the element for a dictionary keyword
func (d *Dataset) Lookup(keyword string) (*Element, bool) {
	tag, ok := TagForKeyword(keyword)
	if !ok {
		return nil, false
	}
	return d.Get(tag)
}

// Set upserts a value element
func (d *Dataset) Set(tag Tag, value string) *Element {
	e := d.put(tag)
	e.Value = value
	e.Items = nil
	return e
}

// SetKeyword upserts a value element by dictionary keyword
func (d *Dataset) SetKeyword(keyword, value string) error {
	tag, ok := TagForKeyword(keyword)
	if !ok {
		return fmt.Errorf("unknown keyword %q", keyword)
	}
	d.Set(tag, value)
	return nil
}

// Sequence returns the sequence element for tag, creating an empty one if needed
func (d *Dataset) Sequence(tag Tag) *Element {
	e := d.put(tag)
	if e.Items == nil {
		e.Items = []*Dataset{}
		e.Value = ""
	}
	return e
}

// Remove deletes the element with the given tag
func (d *Dataset) Remove(tag Tag) {
	i := d.search(tag)
	if i < len(d.elements) && d.elements[i].Tag == tag {
		d.elements = append(d.elements[:i], d.elements[i+1:]...)
	}
}

// Clone returns a deep copy
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{elements: make([]*Element, 0, len(d.elements))}
	for _, e := range d.elements {
		c := &Element{Tag: e.Tag, Keyword: e.Keyword, Value: e.Value}
		if e.Items != nil {
			c.Items = make([]*Dataset, len(e.Items))
			for i, item := range e.Items {
				c.Items[i] = item.Clone()
			}
		}
		out.elements = append(out.elements, c)
	}
	return out
}

func (d *Dataset) search(tag Tag) int {
	return sort.Search(len(d.elements), func(i int) bool {
		return d.elements[i].Tag >= tag
	})
}

func (d *Dataset) put(tag Tag) *Element {
	i := d.search(tag)
	if i < len(d.elements) && d.elements[i].Tag == tag {
		return d.elements[i]
	}
	e := &Element{Tag: tag, Keyword: KeywordForTag(tag)}
	d.elements = append(d.elements, nil)
	copy(d.elements[i+1:], d.elements[i:])
	d.elements[i] = e
	return e
}
