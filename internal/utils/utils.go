package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// truncateLongStringInImpl recursively truncates long strings in a JSON-like object.
func truncateLongStringInImpl(obj interface{}, n int) interface{} {
	switch v := obj.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{})
		for k, val := range v {
			result[k] = truncateLongStringInImpl(val, n)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = truncateLongStringInImpl(val, n)
		}
		return result
	case string:
		return Truncate(v, n)
	default:
		return v
	}
}

// TruncateLongStringInObject renders v as indented JSON with every string
// value cut to at most n bytes. Used for debug logging of upstream payloads.
func TruncateLongStringInObject(v any, n int) string {
	vBytes, _ := json.Marshal(v)
	var vInterface interface{}
	_ = json.Unmarshal(vBytes, &vInterface)

	truncated := truncateLongStringInImpl(vInterface, n)

	vString, _ := json.MarshalIndent(truncated, "", "  ")
	return string(vString)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Capitalize upper-cases the first rune of s and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func ExpandUser(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
