// Package jsonx extracts structured objects from free-form model output.
//
// Generative replies routinely wrap their JSON in prose or markdown fences.
// ExtractObject pulls out the widest brace-delimited block; DecodeOr turns
// that block into a typed value with a caller-supplied fallback so callers
// always receive a usable object, never an error.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Greedy scan: first '{' through the last '}'. When a reply carries two
// independent JSON objects the capture spans both and fails to decode,
// which lands on the fallback path. Known limitation, kept on purpose.
var reObject = regexp.MustCompile(`\{[\s\S]*\}`)

var reFence = regexp.MustCompile("(?m)^\\s*```(?:json)?\\s*$")

// ExtractObject returns the widest brace-delimited substring of raw after
// stripping markdown code fences. ok is false when no such block exists.
func ExtractObject(raw string) (string, bool) {
	s := reFence.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	m := reObject.FindString(s)
	if m == "" {
		return "", false
	}
	return m, true
}

// DecodeOr decodes the first JSON object found in raw into a value of type T.
// On any failure (no object, malformed JSON, type mismatch) it returns
// fallback. It never panics and never surfaces an error.
func DecodeOr[T any](raw string, fallback T) T {
	block, ok := ExtractObject(raw)
	if !ok {
		return fallback
	}
	var out T
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		return fallback
	}
	return out
}

// DecodeRawOr behaves like DecodeOr but takes a json.RawMessage, the type the
// model client hands back.
func DecodeRawOr[T any](raw json.RawMessage, fallback T) T {
	return DecodeOr(string(raw), fallback)
}
