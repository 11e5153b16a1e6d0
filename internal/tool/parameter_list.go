package tool

import (
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParameterList is the ordered parameter set of one tool. Parameters are
// addressed by position (int) or by name (string).
type ParameterList struct {
	name         string
	templatePath string
	params       []*Parameter
}

// NewParameterList creates a list named after its tool and parses data
// into it (see Parse). data may be nil.
func NewParameterList(name string, data any) (*ParameterList, error) {
	l := &ParameterList{name: name}
	if err := l.Parse(data); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadParameterList reads a parameter template file. The ".yaml" suffix
// is appended when path lacks it.
func LoadParameterList(name, path string) (*ParameterList, error) {
	if !strings.HasSuffix(path, ".yaml") {
		path += ".yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening parameter template: %w", err)
	}
	defer f.Close()

	l, err := ReadParameterList(name, f)
	if err != nil {
		return nil, fmt.Errorf("parameter template %s: %w", path, err)
	}
	l.templatePath = path
	return l, nil
}

// ReadParameterList decodes a yaml parameter template of the form
//
//	toolname:
//	  - name: input
//	    value: ''
//	    required: true
//	    tip: Input folder
func ReadParameterList(name string, r io.Reader) (*ParameterList, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding parameter template: %w", err)
	}
	return NewParameterList(name, doc)
}

// Parse adds parameters from data, which is one of:
//   - a flat sequence, taken as the arguments of a single parameter;
//   - a sequence of sequences or mappings, one parameter each;
//   - a mapping with exactly one key (the tool name) whose value is
//     parsed as the body.
//
// Mappings with any other number of keys are rejected. Nothing is added
// when Parse fails.
func (l *ParameterList) Parse(data any) error {
	parsed, err := parseParameters(data)
	if err != nil {
		return err
	}
	l.params = append(l.params, parsed...)
	return nil
}

func parseParameters(data any) ([]*Parameter, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(d) != 1 {
			return nil, paramErrorf("parameter data mapping must have exactly one key (the tool name), got %d", len(d))
		}
		for _, body := range d {
			return parseParameters(body)
		}
	case []map[string]any:
		out := make([]*Parameter, 0, len(d))
		for _, m := range d {
			p, err := parameterFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case [][]any:
		out := make([]*Parameter, 0, len(d))
		for _, s := range d {
			p, err := parameterFromList(s)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case []any:
		var out []*Parameter
		for _, el := range d {
			switch el.(type) {
			case []any, map[string]any:
				p, err := NewParameter(el)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			default:
				// the list is itself a single parameter
				p, err := NewParameter(d)
				if err != nil {
					return nil, err
				}
				return append(out, p), nil
			}
		}
		return out, nil
	}
	return nil, paramErrorf("parameter data must be a sequence or a mapping, got %T", data)
}

func (l *ParameterList) Name() string { return l.name }

// TemplatePath is the file the list was loaded from, if any.
func (l *ParameterList) TemplatePath() string { return l.templatePath }

func (l *ParameterList) Len() int { return len(l.params) }

// Add appends a parameter built with NewParameter.
func (l *ParameterList) Add(data any) error {
	p, err := NewParameter(data)
	if err != nil {
		return err
	}
	l.params = append(l.params, p)
	return nil
}

func (l *ParameterList) index(token any) (int, error) {
	switch t := token.(type) {
	case int:
		if t < 0 || t >= len(l.params) {
			return -1, paramErrorf("parameter index %d out of range (len %d)", t, len(l.params))
		}
		return t, nil
	case string:
		for i, p := range l.params {
			if p.Name == t {
				return i, nil
			}
		}
		return -1, paramErrorf("invalid parameter: %s", t)
	default:
		return -1, &TokenTypeError{Token: token}
	}
}

// Get returns the parameter addressed by token.
func (l *ParameterList) Get(token any) (*Parameter, error) {
	i, err := l.index(token)
	if err != nil {
		return nil, err
	}
	return l.params[i], nil
}

// Value returns the value of the parameter addressed by token.
func (l *ParameterList) Value(token any) (any, error) {
	p, err := l.Get(token)
	if err != nil {
		return nil, err
	}
	return p.Value, nil
}

// SetValue sets the value of the parameter addressed by token.
func (l *ParameterList) SetValue(token, value any) error {
	p, err := l.Get(token)
	if err != nil {
		return err
	}
	p.Value = value
	return nil
}

// Set replaces the parameter addressed by token.
func (l *ParameterList) Set(token any, p *Parameter) error {
	i, err := l.index(token)
	if err != nil {
		return err
	}
	l.params[i] = p
	return nil
}

// Remove deletes every parameter called name and reports whether one
// was found.
func (l *ParameterList) Remove(name string) bool {
	kept := l.params[:0]
	for _, p := range l.params {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(l.params)
	clear(l.params[len(kept):])
	l.params = kept
	return removed
}

// Names returns the parameter names in order.
func (l *ParameterList) Names() []string {
	out := make([]string, len(l.params))
	for i, p := range l.params {
		out[i] = p.Name
	}
	return out
}

// All iterates the parameters in order. The list can be iterated any
// number of times.
func (l *ParameterList) All() iter.Seq2[int, *Parameter] {
	return func(yield func(int, *Parameter) bool) {
		for i, p := range l.params {
			if !yield(i, p) {
				return
			}
		}
	}
}

// Missing returns the required parameters whose value is the empty
// string.
func (l *ParameterList) Missing() []*Parameter {
	var out []*Parameter
	for _, p := range l.params {
		if p.IsMissing() {
			out = append(out, p)
		}
	}
	return out
}

// Help returns the value of the "help" parameter, or "" without one.
func (l *ParameterList) Help() string {
	v, err := l.Value("help")
	if err != nil || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Map returns the parameter values keyed by name.
func (l *ParameterList) Map() map[string]any {
	out := make(map[string]any, len(l.params))
	for _, p := range l.params {
		out[p.Name] = p.Value
	}
	return out
}

// Clone returns a deep copy of the list structure. Values are copied
// shallowly.
func (l *ParameterList) Clone() *ParameterList {
	cp := &ParameterList{name: l.name, templatePath: l.templatePath, params: make([]*Parameter, len(l.params))}
	for i, p := range l.params {
		q := *p
		cp.params[i] = &q
	}
	return cp
}

func (l *ParameterList) String() string {
	parts := make([]string, len(l.params))
	for i, p := range l.params {
		parts[i] = p.String()
	}
	return strings.Join(parts, "\n")
}
