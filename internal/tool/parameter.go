package tool

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parameter is a named, typed tool input.
type Parameter struct {
	Name     string `yaml:"name"`
	Value    any    `yaml:"value"`
	Required bool   `yaml:"required"`
	Tip      string `yaml:"tip"`
}

// NewParameter builds a Parameter from either a sequence
// (name, value[, required, tip]) or a mapping with the keys name and
// value and the optional keys required and tip.
//
// A 3 element sequence only sets name and value.
func NewParameter(data any) (*Parameter, error) {
	switch d := data.(type) {
	case *Parameter:
		cp := *d
		return &cp, nil
	case Parameter:
		return &d, nil
	case []any:
		return parameterFromList(d)
	case []string:
		l := make([]any, len(d))
		for i, s := range d {
			l[i] = s
		}
		return parameterFromList(l)
	case map[string]any:
		return parameterFromMap(d)
	default:
		return nil, paramErrorf("parameter data must be a sequence or a mapping, got %T", data)
	}
}

func parameterFromList(data []any) (*Parameter, error) {
	if len(data) < 2 || len(data) > 4 {
		return nil, paramErrorf("single parameter must have at least 2 and max 4 values, got %d", len(data))
	}
	name, ok := data[0].(string)
	if !ok {
		return nil, paramErrorf("parameter name must be a string, got %T", data[0])
	}
	p := &Parameter{Name: name, Value: data[1]}
	if len(data) == 4 {
		req, ok := data[2].(bool)
		if !ok {
			return nil, paramErrorf("parameter %s: required must be a boolean, got %T", name, data[2])
		}
		p.Required = req
		p.Tip = fmt.Sprint(data[3])
	}
	return p, nil
}

func parameterFromMap(data map[string]any) (*Parameter, error) {
	rawName, ok := data["name"]
	if !ok {
		return nil, paramErrorf(`single parameter must have the keys "name" and "value"`)
	}
	value, ok := data["value"]
	if !ok {
		return nil, paramErrorf(`single parameter must have the keys "name" and "value"`)
	}
	name, ok := rawName.(string)
	if !ok {
		return nil, paramErrorf("parameter name must be a string, got %T", rawName)
	}

	p := &Parameter{Name: name, Value: value}
	for key, v := range data {
		switch key {
		case "name", "value":
		case "required":
			req, ok := v.(bool)
			if !ok {
				return nil, paramErrorf("parameter %s: required must be a boolean, got %T", name, v)
			}
			p.Required = req
		case "tip":
			if v != nil {
				p.Tip = fmt.Sprint(v)
			}
		default:
			return nil, paramErrorf("parameter %s: attribute %q is not valid", name, key)
		}
	}
	return p, nil
}

// Label is the display label of the parameter: the capitalized name with
// underscores as spaces, suffixed with "(optional)" when not required.
func (p *Parameter) Label() string {
	label := strings.ReplaceAll(capitalize(p.Name), "_", " ")
	if p.Required {
		return label
	}
	return label + " (optional)"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// IsMissing reports whether a required parameter holds the empty string.
// Other zero values such as false or 0 count as set.
func (p *Parameter) IsMissing() bool {
	if !p.Required {
		return false
	}
	s, ok := p.Value.(string)
	return ok && s == ""
}

func (p *Parameter) String() string {
	return fmt.Sprintf("Name: %s\nValue: %v\nRequired: %t\nTip: %s\n", p.Name, p.Value, p.Required, p.Tip)
}
