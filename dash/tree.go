package dash

import (
	"strings"

	"github.com/juju/errors"
)

// Tree is a JSON object where nested objects are addressed by dotted paths.
// The plugin builds telemetry and config from channel names like "truck.speed"
// by splitting on dots and creating intermediate objects.
type Tree map[string]interface{}

// Set stores value at path, creating intermediate objects.
// A non-object found in the middle of the path is replaced by an object.
func (t Tree) Set(path string, value interface{}) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	node := t
	for _, name := range parts[:len(parts)-1] {
		next, ok := asTree(node[name])
		if !ok {
			next = Tree{}
			node[name] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// Get walks objects along path.
func (t Tree) Get(path string) (interface{}, bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	var node interface{} = t
	for _, name := range parts {
		obj, ok := asTree(node)
		if !ok {
			return nil, false
		}
		if node, ok = obj[name]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Float returns numeric value at path.
// Missing path or non-number is ErrMalformedPayload.
func (t Tree) Float(path string) (float64, error) {
	v, ok := t.Get(path)
	if !ok {
		return 0, errors.Annotatef(ErrMalformedPayload, "missing %s", path)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, errors.Annotatef(ErrMalformedPayload, "%s=%v is not a number", path, v)
}

func asTree(v interface{}) (Tree, bool) {
	switch x := v.(type) {
	case Tree:
		return x, true
	case map[string]interface{}:
		return Tree(x), true
	}
	return nil, false
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, errors.NotValidf("empty path")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, errors.NotValidf("path=%q", path)
		}
	}
	return parts, nil
}
