package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// resolve returns s, or the variable it names when s starts with '$'. A
// leading "$$" escapes a literal '$'.
func (c *Context) resolve(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	if strings.HasPrefix(s, "$$") {
		return s[1:], nil
	}
	v, ok := c.Var(s)
	if !ok {
		return "", fmt.Errorf("undefined variable %s", s)
	}
	return v, nil
}

func (c *Context) codeID(s string) (uint64, error) {
	resolved, err := c.resolve(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(resolved, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid code id %q", s)
	}
	return id, nil
}

// expand replaces every JSON string of msg that is exactly a variable
// reference with the variable's value. Strings starting with "$$" lose one
// '$' and are otherwise kept verbatim. A nil message stays nil.
func (c *Context) expand(msg json.RawMessage) (json.RawMessage, error) {
	if msg == nil || !bytes.Contains(msg, []byte(`"$`)) {
		return msg, nil
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	expanded, err := c.expandValue(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(expanded)
}

func (c *Context) expandValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		if !strings.HasPrefix(t, "$") {
			return t, nil
		}
		return c.resolve(t)
	case map[string]interface{}:
		for k, inner := range t {
			out, err := c.expandValue(inner)
			if err != nil {
				return nil, err
			}
			t[k] = out
		}
		return t, nil
	case []interface{}:
		for i, inner := range t {
			out, err := c.expandValue(inner)
			if err != nil {
				return nil, err
			}
			t[i] = out
		}
		return t, nil
	default:
		return v, nil
	}
}

// lookupPath extracts the field at a dotted path ("assets.0.amount") of a
// JSON document. Strings are returned unquoted, anything else as JSON.
func lookupPath(doc []byte, path string) (string, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse query response: %w", err)
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("path %s: no field %q", path, seg)
			}
			v = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", fmt.Errorf("path %s: bad index %q", path, seg)
			}
			v = node[i]
		default:
			return "", fmt.Errorf("path %s: %q is not a container", path, seg)
		}
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
