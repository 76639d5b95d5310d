package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

type jsonKind uint8

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

// The "exports" and "imports" maps are order-sensitive, which rules out
// decoding into Go maps. This keeps object keys in source order.
type jsonValue struct {
	kind    jsonKind
	str     string
	boolean bool
	array   []jsonValue
	object  []jsonProperty
}

type jsonProperty struct {
	key   string
	value jsonValue
}

func (v jsonValue) get(key string) (jsonValue, bool) {
	for _, prop := range v.object {
		if prop.key == key {
			return prop.value, true
		}
	}
	return jsonValue{}, false
}

func (v jsonValue) getString(key string) (string, bool) {
	if value, ok := v.get(key); ok && value.kind == jsonString {
		return value.str, true
	}
	return "", false
}

func parseJSON(contents []byte) (jsonValue, error) {
	decoder := json.NewDecoder(bytes.NewReader(contents))
	decoder.UseNumber()
	value, err := readJSONValue(decoder)
	if err != nil {
		return jsonValue{}, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return jsonValue{}, errors.New("unexpected data after the top-level value")
	}
	return value, nil
}

func readJSONValue(decoder *json.Decoder) (jsonValue, error) {
	token, err := decoder.Token()
	if err != nil {
		return jsonValue{}, err
	}
	switch t := token.(type) {
	case nil:
		return jsonValue{kind: jsonNull}, nil
	case bool:
		return jsonValue{kind: jsonBool, boolean: t}, nil
	case json.Number:
		return jsonValue{kind: jsonNumber, str: t.String()}, nil
	case string:
		return jsonValue{kind: jsonString, str: t}, nil
	case json.Delim:
		switch t {
		case '[':
			value := jsonValue{kind: jsonArray}
			for decoder.More() {
				item, err := readJSONValue(decoder)
				if err != nil {
					return jsonValue{}, err
				}
				value.array = append(value.array, item)
			}
			_, err := decoder.Token()
			return value, err
		case '{':
			value := jsonValue{kind: jsonObject}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return jsonValue{}, err
				}
				key, _ := keyToken.(string)
				item, err := readJSONValue(decoder)
				if err != nil {
					return jsonValue{}, err
				}
				value.object = append(value.object, jsonProperty{key: key, value: item})
			}
			_, err := decoder.Token()
			return value, err
		}
	}
	return jsonValue{}, fmt.Errorf("unexpected token %v", token)
}

type packageJSON struct {
	dir  string
	name string

	// Main fields by name, unresolved
	mainFields map[string]string

	// Only set when "browser" is an object. A nil value means the path is
	// disabled by mapping it to false.
	browserMap map[string]*string

	exports *jsonValue
	imports *jsonValue

	// Nil means every file has side effects
	sideEffects *sideEffectsData
}

type sideEffectsData struct {
	// Set when "sideEffects" is a boolean
	all *bool

	// Otherwise these are matched against paths relative to the package
	patterns []*regexp.Regexp
}

func (d *sideEffectsData) has(relPath string) bool {
	if d == nil {
		return true
	}
	if d.all != nil {
		return *d.all
	}
	relPath = strings.TrimPrefix(relPath, "./")
	for _, re := range d.patterns {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}

func parsePackageJSON(dir string, contents []byte) (*packageJSON, error) {
	root, err := parseJSON(contents)
	if err != nil {
		return nil, err
	}
	if root.kind != jsonObject {
		return nil, errors.New("expected an object")
	}

	pkg := &packageJSON{dir: dir, mainFields: make(map[string]string)}
	pkg.name, _ = root.getString("name")

	for _, field := range []string{"module", "main", "jsnext:main"} {
		if value, ok := root.getString(field); ok && value != "" {
			pkg.mainFields[field] = value
		}
	}

	if browser, ok := root.get("browser"); ok {
		switch browser.kind {
		case jsonString:
			pkg.mainFields["browser"] = browser.str
		case jsonObject:
			pkg.browserMap = make(map[string]*string, len(browser.object))
			for _, prop := range browser.object {
				switch prop.value.kind {
				case jsonString:
					target := prop.value.str
					pkg.browserMap[prop.key] = &target
				case jsonBool:
					if !prop.value.boolean {
						pkg.browserMap[prop.key] = nil
					}
				}
			}
		}
	}

	if exports, ok := root.get("exports"); ok && exports.kind != jsonNull {
		pkg.exports = &exports
	}
	if imports, ok := root.get("imports"); ok && imports.kind == jsonObject {
		pkg.imports = &imports
	}

	if sideEffects, ok := root.get("sideEffects"); ok {
		switch sideEffects.kind {
		case jsonBool:
			all := sideEffects.boolean
			pkg.sideEffects = &sideEffectsData{all: &all}
		case jsonArray:
			data := &sideEffectsData{}
			for _, item := range sideEffects.array {
				if item.kind != jsonString {
					continue
				}
				data.patterns = append(data.patterns, globToRegexp(item.str))
			}
			pkg.sideEffects = data
		}
	}
	return pkg, nil
}

// Patterns without a slash match the base name anywhere in the package,
// as webpack does
func globToRegexp(glob string) *regexp.Regexp {
	glob = strings.TrimPrefix(glob, "./")
	var sb strings.Builder
	sb.WriteByte('^')
	if !strings.Contains(glob, "/") {
		sb.WriteString("(?:.*/)?")
	}
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteByte('$')
	return regexp.MustCompile(sb.String())
}
