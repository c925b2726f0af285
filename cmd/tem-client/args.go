package main

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseValue parses one command-line token as a YAML scalar or flow
// collection. Tokens that are not valid YAML are kept as strings.
func parseValue(token string) any {
	var v any
	if err := yaml.Unmarshal([]byte(token), &v); err != nil || v == nil {
		if token == "null" || token == "~" {
			return nil
		}
		return token
	}
	return normalize(v)
}

// normalize converts YAML's map[string]any and map[any]any into
// map[string]any recursively so every codec can encode the value.
func normalize(v any) any {
	switch t := v.(type) {
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	default:
		return v
	}
}

// parseArgs parses positional arguments.
func parseArgs(tokens []string) []any {
	args := make([]any, 0, len(tokens))
	for _, tok := range tokens {
		args = append(args, parseValue(tok))
	}
	return args
}

// parseKwargs parses key=value pairs.
func parseKwargs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	kwargs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("keyword argument %q is not key=value", p)
		}
		kwargs[k] = parseValue(v)
	}
	return kwargs, nil
}

// splitShellArgs separates a shell line's tokens into positional and
// keyword arguments. A token is a keyword argument when its key is a bare
// identifier followed by '='.
func splitShellArgs(tokens []string) ([]any, map[string]any, error) {
	var positional, keyword []string
	for _, tok := range tokens {
		if k, _, ok := strings.Cut(tok, "="); ok && isIdentifier(k) {
			keyword = append(keyword, tok)
			continue
		}
		positional = append(positional, tok)
	}
	kwargs, err := parseKwargs(keyword)
	if err != nil {
		return nil, nil, err
	}
	return parseArgs(positional), kwargs, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
