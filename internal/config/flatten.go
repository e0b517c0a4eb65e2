package config

import (
	"maps"
	"slices"
	"strings"
)

const keySep = "."

// secretKeys are printed masked by config list and config get.
var secretKeys = []string{"api.token", "telegram.token"}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return slices.Contains(secretKeys, key)
}

// Keys returns the keys of flat in sorted order.
func Keys(flat map[string]any) []string {
	return slices.Sorted(maps.Keys(flat))
}

// Flatten turns nested objects into dot-separated keys, so
// {"api": {"token": "x"}} becomes {"api.token": "x"}. Empty objects
// contribute no keys.
func Flatten(m map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(path []string, node map[string]any)
	walk = func(path []string, node map[string]any) {
		for name, v := range node {
			p := append(slices.Clip(path), name)
			if child, ok := v.(map[string]any); ok {
				walk(p, child)
				continue
			}
			flat[strings.Join(p, keySep)] = v
		}
	}
	walk(nil, m)
	return flat
}

// Unflatten reverses Flatten. Keys are applied in sorted order, so a key
// nested under a scalar ("a.b" after "a") replaces the scalar.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for _, key := range Keys(flat) {
		setPath(root, strings.Split(key, keySep), flat[key])
	}
	return root
}

func setPath(node map[string]any, path []string, v any) {
	for _, name := range path[:len(path)-1] {
		child, ok := node[name].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[name] = child
		}
		node = child
	}
	node[path[len(path)-1]] = v
}

// MaskSecrets copies flat, showing each non-empty secret as "***" plus its
// last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := maps.Clone(flat)
	for _, key := range secretKeys {
		if s, ok := out[key].(string); ok && s != "" {
			out[key] = maskSecret(s)
		}
	}
	return out
}

func maskSecret(s string) string {
	r := []rune(s)
	return "***" + string(r[max(0, len(r)-4):])
}
