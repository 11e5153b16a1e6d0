package fileio

import (
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	tagPattern       = regexp.MustCompile(`<(/?[^>]+)>`)
	separatorPattern = regexp.MustCompile(`>(.)<`)
	extPattern       = regexp.MustCompile(`(\.[A-Za-z0-9-]+)+$`)
	lastExtPattern   = regexp.MustCompile(`\.[A-Za-z0-9-]+$`)
)

// Synthetic tags stored next to the parsed ones.
const (
	TagExt = "EXT"
	TagSep = "SEP"
)

// Template describes how a file name decomposes into tagged components,
// e.g. "<BODY1>_<ID1>_<BODY2>". Tags are separated by a single literal
// character.
type Template struct {
	raw       string
	tags      []string
	separator string
}

// compiled templates are immutable, so they are shared process-wide.
var templates = cache.New(30*time.Minute, time.Hour)

// ParseTemplate compiles a template string. Templates without a literal
// separator between two tags are not supported.
func ParseTemplate(s string) (*Template, error) {
	if v, ok := templates.Get(s); ok {
		return v.(*Template), nil
	}

	matches := tagPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, &ParseError{Template: s, Reason: "no tags declared"}
	}
	tags := make([]string, len(matches))
	for i, m := range matches {
		tags[i] = m[1]
	}

	sep := separatorPattern.FindStringSubmatch(s)
	if sep == nil {
		return nil, &ParseError{Template: s, Reason: "name templating without separator not supported"}
	}

	t := &Template{raw: s, tags: tags, separator: sep[1]}
	templates.Set(s, t, cache.DefaultExpiration)
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string { return t.raw }

// Tags returns the declared tag names in template order.
func (t *Template) Tags() []string {
	out := make([]string, len(t.tags))
	copy(out, t.tags)
	return out
}

// Separator returns the literal separator detected between tags.
func (t *Template) Separator() string { return t.separator }

// Parse parses a file path against the template.
func (t *Template) Parse(path string) (*ParsedFileName, error) {
	return newParsedFileName(path, t)
}

// splitExtension returns the longest dotted suffix of name and the
// remaining body. When the template separator is a dot only the last
// suffix is the extension.
func splitExtension(name, separator string) (body, ext string) {
	pattern := extPattern
	if separator == "." {
		pattern = lastExtPattern
	}
	loc := pattern.FindStringIndex(name)
	if loc == nil {
		return name, ""
	}
	return name[:loc[0]], name[loc[0]:]
}
