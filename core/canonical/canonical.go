// Package canonical turns request parameter trees into the key/value shapes
// the EMR wire protocol expects. It is the only place where owner-chosen
// snake_case keys become CamelCase wire names.
package canonical

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Params is a request parameter tree: values are scalars, nested Params
// (or map[string]any), or slices of either.
type Params map[string]any

// Merge returns a copy of p with the entries of other layered on top.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Without returns a copy of p lacking the given key.
func (p Params) Without(key string) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if k != key {
			out[k] = v
		}
	}
	return out
}

const hexUpper = "0123456789ABCDEF"

// Escape percent-encodes every byte outside [A-Za-z0-9._~-] as %XX with
// upper-case hex digits. Spaces become %20, never '+'.
func Escape(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexUpper[c>>4])
		b.WriteByte(hexUpper[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '~', c == '-':
		return true
	}
	return false
}

var camelRe = regexp.MustCompile(`(?:^|_)(.)`)

// Camelize upper-cases the first character and every character following
// an underscore, dropping the underscores: "job_flow_ids" -> "JobFlowIds".
// Keys that are already camel-cased are returned unchanged.
func Camelize(word string) string {
	return camelRe.ReplaceAllStringFunc(word, func(m string) string {
		r, _ := utf8.DecodeLastRuneInString(m)
		return strings.ToUpper(string(r))
	})
}

// Verbatim is a mapping of caller-chosen keys. Both flatteners copy its keys
// unchanged instead of camel-casing them.
type Verbatim map[string]string

// FlattenLegacy walks tree and produces the flat query-string mapping used
// by the V2 protocol. Sequences become "<Key>.member.<n>" (1-based), nested
// mappings become "<Key>.<Child>". Empty sequences and mappings produce no
// keys at all.
func FlattenLegacy(tree Params) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]string, prefix string, tree map[string]any) {
	for key, value := range tree {
		name := Camelize(key)
		if prefix != "" {
			name = prefix + "." + name
		}
		if literal, ok := value.(Verbatim); ok {
			for k, v := range literal {
				out[name+"."+k] = v
			}
			continue
		}
		if nested, ok := asMap(value); ok {
			flattenInto(out, name, nested)
			continue
		}
		if items, ok := asSlice(value); ok {
			for i, item := range items {
				member := name + ".member." + strconv.Itoa(i+1)
				if nested, ok := asMap(item); ok {
					flattenInto(out, member, nested)
				} else {
					out[member] = Scalar(item)
				}
			}
			continue
		}
		out[name] = Scalar(value)
	}
}

// FlattenStructural camel-cases every mapping key in tree while keeping the
// nesting intact. The result is ready to be encoded as the V4 JSON body.
func FlattenStructural(tree Params) map[string]any {
	return structural(map[string]any(tree)).(map[string]any)
}

func structural(value any) any {
	if literal, ok := value.(Verbatim); ok {
		out := make(map[string]any, len(literal))
		for k, v := range literal {
			out[k] = v
		}
		return out
	}
	if nested, ok := asMap(value); ok {
		out := make(map[string]any, len(nested))
		for k, v := range nested {
			out[Camelize(k)] = structural(v)
		}
		return out
	}
	if items, ok := asSlice(value); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = structural(item)
		}
		return out
	}
	return value
}

// Scalar renders a leaf value the way it appears on the wire.
func Scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case Params:
		return v, true
	case map[string]any:
		return v, true
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []Params:
		out := make([]any, len(v))
		for i, p := range v {
			out[i] = p
		}
		return out, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
