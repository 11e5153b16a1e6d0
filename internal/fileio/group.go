package fileio

import (
	"fmt"
	"iter"
	"strings"
)

// Mapping remaps tag values, keyed by their text form (see FormatValue),
// to group values.
type Mapping map[string]string

// Group is a bucket of records sharing the same (possibly remapped) tag
// values.
type Group struct {
	Key     []any
	Members []*ParsedFileName
}

// Label renders the group key.
func (g Group) Label() string {
	parts := make([]string, len(g.Key))
	for i, v := range g.Key {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, ",")
}

// GroupIterator partitions the records of a ParsedWorkspace into
// groups. Groups are consumed destructively: every Next removes the
// group it returns, and SetGrouping rebuilds them from the workspace.
type GroupIterator struct {
	workspace *ParsedWorkspace
	tags      []string
	groups    []Group
}

// NewGroupIterator creates an iterator over ws. When tags is empty no
// grouping is done until SetGrouping is called.
func NewGroupIterator(ws *ParsedWorkspace, tags []string, mapping Mapping) (*GroupIterator, error) {
	g := &GroupIterator{workspace: ws}
	if len(tags) > 0 {
		if err := g.SetGrouping(tags, mapping); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewFileGroupIterator scans a workspace and groups it in one step.
func NewFileGroupIterator(path, wildcard, template string, tags []string, mapping Mapping, opts ...Option) (*GroupIterator, error) {
	ws, err := NewParsedWorkspace(template, path, wildcard, opts...)
	if err != nil {
		return nil, err
	}
	return NewGroupIterator(ws, tags, mapping)
}

func (g *GroupIterator) Workspace() *ParsedWorkspace { return g.workspace }

// GroupTags returns the tags of the current grouping.
func (g *GroupIterator) GroupTags() []string {
	out := make([]string, len(g.tags))
	copy(out, g.tags)
	return out
}

// SetGrouping regroups every workspace record by the given tags. When
// mapping is not empty every tag value must have an entry in it. On error
// the current groups are left untouched.
func (g *GroupIterator) SetGrouping(tags []string, mapping Mapping) error {
	records := g.workspace.Files()

	for _, rec := range records {
		for _, tag := range tags {
			if !rec.HasTag(tag) {
				return fmt.Errorf("%w: %s (file %s)", ErrInvalidGroupingTag, tag, rec.Name())
			}
		}
	}

	var groups []Group
	index := make(map[string]int)
	for _, rec := range records {
		key := rec.Values(tags...)
		if len(mapping) > 0 {
			mapped := make([]any, len(key))
			for i, v := range key {
				m, ok := mapping[FormatValue(v)]
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnmappedValue, FormatValue(v))
				}
				mapped[i] = m
			}
			key = mapped
		}

		id := keyID(key)
		if i, ok := index[id]; ok {
			groups[i].Members = append(groups[i].Members, rec)
			continue
		}
		index[id] = len(groups)
		groups = append(groups, Group{Key: key, Members: []*ParsedFileName{rec}})
	}

	g.groups = groups
	g.tags = append([]string(nil), tags...)
	return nil
}

// keyID distinguishes the float 1 from the string "1".
func keyID(key []any) string {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%T:%s\x00", v, FormatValue(v))
	}
	return b.String()
}

// Len returns the number of groups left.
func (g *GroupIterator) Len() int { return len(g.groups) }

// Next removes and returns the first group.
func (g *GroupIterator) Next() (Group, error) {
	if len(g.groups) == 0 {
		return Group{}, ErrExhausted
	}
	first := g.groups[0]
	g.groups = g.groups[1:]
	return first, nil
}

// All yields the remaining groups, consuming them.
func (g *GroupIterator) All() iter.Seq[Group] {
	return func(yield func(Group) bool) {
		for {
			grp, err := g.Next()
			if err != nil {
				return
			}
			if !yield(grp) {
				return
			}
		}
	}
}
