package resolver

import "strings"

// This implements the subpath resolution of node's "exports" and "imports"
// fields: https://nodejs.org/api/packages.html#subpath-exports

type subpathStatus uint8

const (
	subpathUndefined subpathStatus = iota
	subpathFound

	// The field matched but the target is "null" or every condition failed.
	// This must not fall back to the main fields.
	subpathBlocked
)

// Returns the target relative to the package directory, such as "./lib/a.js"
func resolveExports(exports jsonValue, subpath string, conditions map[string]bool) (string, subpathStatus) {
	if !isSubpathMap(exports) {
		if subpath != "." {
			return "", subpathBlocked
		}
		return resolveTarget(exports, "", conditions)
	}
	return resolveSubpathMap(exports, subpath, conditions)
}

func isSubpathMap(value jsonValue) bool {
	return value.kind == jsonObject && len(value.object) > 0 && strings.HasPrefix(value.object[0].key, ".")
}

func resolveSubpathMap(subpaths jsonValue, subpath string, conditions map[string]bool) (string, subpathStatus) {
	if target, ok := subpaths.get(subpath); ok && !strings.Contains(subpath, "*") && !strings.HasSuffix(subpath, "/") {
		return resolveTarget(target, "", conditions)
	}

	bestKey := ""
	bestMatch := ""
	for _, prop := range subpaths.object {
		key := prop.key
		star := strings.IndexByte(key, '*')
		if star == -1 {
			// Deprecated folder mappings such as "./dir/"
			if strings.HasSuffix(key, "/") && strings.HasPrefix(subpath, key) && patternKeyLess(key, bestKey) {
				bestKey = key
				bestMatch = subpath[len(key):]
			}
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if len(subpath) >= len(key)-1 && strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) && patternKeyLess(key, bestKey) {
			bestKey = key
			bestMatch = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestKey == "" {
		return "", subpathUndefined
	}

	target, _ := subpaths.get(bestKey)
	if !strings.Contains(bestKey, "*") {
		resolved, status := resolveTarget(target, "", conditions)
		if status == subpathFound {
			resolved += bestMatch
		}
		return resolved, status
	}
	return resolveTarget(target, bestMatch, conditions)
}

// Longer prefixes before the "*" win, then longer keys
func patternKeyLess(a string, b string) bool {
	if b == "" {
		return true
	}
	baseA := strings.IndexByte(a, '*') + 1
	baseB := strings.IndexByte(b, '*') + 1
	if baseA == 0 {
		baseA = len(a)
	}
	if baseB == 0 {
		baseB = len(b)
	}
	if baseA != baseB {
		return baseA > baseB
	}
	return len(a) > len(b)
}

func resolveTarget(target jsonValue, patternMatch string, conditions map[string]bool) (string, subpathStatus) {
	switch target.kind {
	case jsonString:
		if patternMatch != "" || strings.Contains(target.str, "*") {
			return strings.ReplaceAll(target.str, "*", patternMatch), subpathFound
		}
		return target.str, subpathFound

	case jsonObject:
		for _, prop := range target.object {
			if prop.key != "default" && !conditions[prop.key] {
				continue
			}
			resolved, status := resolveTarget(prop.value, patternMatch, conditions)
			if status != subpathUndefined {
				return resolved, status
			}
		}
		return "", subpathUndefined

	case jsonArray:
		for _, item := range target.array {
			if resolved, status := resolveTarget(item, patternMatch, conditions); status == subpathFound {
				return resolved, status
			}
		}
		return "", subpathBlocked
	}
	return "", subpathBlocked
}
