package fileio

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ParsedFileName is a file name decomposed according to a Template.
// Tag values are float64 when the component is made only of digits and
// string otherwise.
type ParsedFileName struct {
	name     string
	path     string
	template *Template
	order    []string
	tags     map[string]any
}

// NewParsedFileName parses path against the template string.
func NewParsedFileName(path, template string) (*ParsedFileName, error) {
	t, err := ParseTemplate(template)
	if err != nil {
		return nil, err
	}
	return newParsedFileName(path, t)
}

func newParsedFileName(path string, t *Template) (*ParsedFileName, error) {
	p := &ParsedFileName{
		name:     filepath.Base(path),
		path:     path,
		template: t,
		tags:     make(map[string]any, len(t.tags)+2),
	}

	body, ext := splitExtension(p.name, t.separator)
	p.tags[TagExt] = ext
	p.tags[TagSep] = t.separator

	components := strings.Split(body, t.separator)
	if len(components) != len(t.tags) {
		return nil, &ParseError{
			Template: t.raw,
			Name:     p.name,
			Reason:   fmt.Sprintf("%d components for %d tags", len(components), len(t.tags)),
		}
	}

	p.order = make([]string, 0, len(t.tags))
	for i, tag := range t.tags {
		p.order = append(p.order, tag)
		p.tags[tag] = coerce(components[i])
	}
	return p, nil
}

func coerce(component string) any {
	if component == "" {
		return component
	}
	for _, r := range component {
		if r < '0' || r > '9' {
			return component
		}
	}
	f, err := strconv.ParseFloat(component, 64)
	if err != nil {
		return component
	}
	return f
}

// FormatValue renders a tag value the way it appears in a file name.
func FormatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func (p *ParsedFileName) String() string { return p.name }

// Name is the base name of the file.
func (p *ParsedFileName) Name() string { return p.name }

// Path is the path the record was parsed from.
func (p *ParsedFileName) Path() string { return p.path }

func (p *ParsedFileName) Template() string { return p.template.raw }

// Order returns the parsed tag names in template order.
func (p *ParsedFileName) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Tags returns a copy of all tag values, including EXT and SEP.
func (p *ParsedFileName) Tags() map[string]any {
	out := make(map[string]any, len(p.tags))
	for k, v := range p.tags {
		out[k] = v
	}
	return out
}

// HasTag reports whether the record carries the named tag.
func (p *ParsedFileName) HasTag(name string) bool {
	_, ok := p.tags[name]
	return ok
}

// Tag returns the value of the named tag.
func (p *ParsedFileName) Tag(name string) (any, bool) {
	v, ok := p.tags[name]
	return v, ok
}

// TagAt returns the name of the tag at position i in template order.
func (p *ParsedFileName) TagAt(i int) (string, bool) {
	if i < 0 || i >= len(p.order) {
		return "", false
	}
	return p.order[i], true
}

// Values returns the values of the requested tags in request order.
// Unknown tags are skipped.
func (p *ParsedFileName) Values(tags ...string) []any {
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		if v, ok := p.tags[t]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (p *ParsedFileName) Extension() string { return p.tags[TagExt].(string) }

func (p *ParsedFileName) Separator() string { return p.tags[TagSep].(string) }

// Body joins the values of every tag whose name contains BODY.
func (p *ParsedFileName) Body() string {
	var parts []string
	for _, tag := range p.order {
		if strings.Contains(tag, "BODY") {
			parts = append(parts, FormatValue(p.tags[tag]))
		}
	}
	return strings.Join(parts, p.Separator())
}
