package electionio

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gilchrisn/election-map/pkg/election"
)

// FormatParams renders params as a python dict literal with sorted keys.
func FormatParams(p election.Params) string {
	keys := p.Keys()
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pyString(k))
		b.WriteString(": ")
		b.WriteString(pyValue(p[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func pyValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return pyString(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return pyFloat(float64(x))
	case float64:
		return pyFloat(x)
	case []float64:
		items := make([]string, len(x))
		for i, f := range x {
			items[i] = pyFloat(f)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []int:
		items := make([]string, len(x))
		for i, n := range x {
			items[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []interface{}:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = pyValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]interface{}:
		return FormatParams(election.Params(x))
	case election.Params:
		return FormatParams(x)
	default:
		return pyString(fmt.Sprint(x))
	}
}

func pyFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func pyString(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// ParseParams reads a python dict literal. Python literals are close
// enough to YAML flow mappings that, once tuples become lists, yaml.v3 can
// decode them; None, inf and nan are mapped back afterwards.
func ParseParams(s string) (election.Params, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return election.Params{}, nil
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(tuplesToLists(s)), &raw); err != nil {
		return nil, fmt.Errorf("%w: params %q: %v", ErrMalformed, s, err)
	}
	out := make(election.Params, len(raw))
	for k, v := range raw {
		out[k] = fromPython(v)
	}
	return out, nil
}

// tuplesToLists swaps parentheses outside quoted strings for brackets.
func tuplesToLists(s string) string {
	out := []byte(s)
	var quote byte
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			out[i] = '['
		case c == ')':
			out[i] = ']'
		}
	}
	return string(out)
}

func fromPython(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		switch x {
		case "None":
			return nil
		case "inf":
			return math.Inf(1)
		case "-inf":
			return math.Inf(-1)
		case "nan":
			return math.NaN()
		}
		return x
	case []interface{}:
		for i := range x {
			x[i] = fromPython(x[i])
		}
		return x
	case map[string]interface{}:
		for k := range x {
			x[k] = fromPython(x[k])
		}
		return x
	}
	return v
}
