package helpers

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var reservedWords = map[string]bool{
	"arguments": true, "await": true, "break": true, "case": true, "catch": true,
	"class": true, "const": true, "continue": true, "debugger": true, "default": true,
	"delete": true, "do": true, "else": true, "enum": true, "eval": true,
	"export": true, "extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "implements": true, "import": true, "in": true,
	"instanceof": true, "interface": true, "let": true, "new": true, "null": true,
	"package": true, "private": true, "protected": true, "public": true, "return": true,
	"static": true, "super": true, "switch": true, "this": true, "throw": true,
	"true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true,
}

func IsReservedWord(text string) bool {
	return reservedWords[text]
}

func IsIdentifier(text string) bool {
	if text == "" || reservedWords[text] {
		return false
	}
	for i, c := range text {
		if i == 0 && !isIdentifierStart(c) {
			return false
		}
		if i > 0 && !isIdentifierContinue(c) {
			return false
		}
	}
	return true
}

// ToIdentifier turns an arbitrary string such as a file path into a valid
// JavaScript identifier. Runs of invalid characters collapse into one "_".
func ToIdentifier(text string) string {
	sb := strings.Builder{}
	needsGap := false
	for _, c := range text {
		if sb.Len() == 0 && isIdentifierStart(c) || sb.Len() > 0 && isIdentifierContinue(c) {
			if needsGap {
				sb.WriteByte('_')
				needsGap = false
			}
			sb.WriteRune(c)
		} else if sb.Len() > 0 {
			needsGap = true
		} else if c >= '0' && c <= '9' {
			sb.WriteByte('_')
			sb.WriteRune(c)
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	result := sb.String()
	if reservedWords[result] {
		return "_" + result
	}
	return result
}

func isIdentifierStart(c rune) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c > 0x7f && unicode.IsLetter(c))
}

func isIdentifierContinue(c rune) bool {
	return isIdentifierStart(c) || (c >= '0' && c <= '9') ||
		(c > 0x7f && (unicode.IsDigit(c) || unicode.Is(unicode.Mn, c)))
}

const hexChars = "0123456789ABCDEF"

// QuoteForJS returns a double-quoted JavaScript string literal. Characters
// that would break out of a script tag or a line are escaped.
func QuoteForJS(text string) string {
	sb := strings.Builder{}
	sb.Grow(len(text) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(text); {
		c, width := utf8.DecodeRuneInString(text[i:])
		i += width
		switch c {
		case '\\':
			sb.WriteString("\\\\")
		case '"':
			sb.WriteString("\\\"")
		case '\n':
			sb.WriteString("\\n")
		case '\r':
			sb.WriteString("\\r")
		case '\t':
			sb.WriteString("\\t")
		case '\u2028':
			sb.WriteString("\\u2028")
		case '\u2029':
			sb.WriteString("\\u2029")
		case '<':
			// Avoid "</script" inside inline scripts
			if strings.HasPrefix(text[i:], "/") {
				sb.WriteString("\\x3C")
			} else {
				sb.WriteByte('<')
			}
		default:
			if c < 0x20 {
				sb.WriteString("\\x")
				sb.WriteByte(hexChars[c>>4])
				sb.WriteByte(hexChars[c&15])
			} else {
				sb.WriteRune(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// PropertyKey renders a name as an object literal key, quoting it when it
// is not a plain identifier.
func PropertyKey(name string) string {
	if IsIdentifier(name) || reservedWords[name] && name != "" {
		return name
	}
	if _, err := strconv.ParseUint(name, 10, 32); err == nil {
		return name
	}
	return QuoteForJS(name)
}
