package store

import (
	"errors"
	"strconv"
	"strings"
)

// encodeVector serializes a float32 vector as a compact JSON array.
// Stored as TEXT so the row stays readable in the sqlite shell.
func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.Grow(len(vec) * 10)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a JSON float array into a []float32 without going
// through encoding/json; this sits on the pattern-search hot path where
// every stored row is decoded per query.
func parseVector(data string) ([]float32, error) {
	s := strings.TrimSpace(data)
	if s == "" || s == "[]" {
		return nil, nil
	}
	if s[0] != '[' || s[len(s)-1] != ']' {
		return nil, errors.New("vector payload is not a JSON array")
	}
	s = s[1 : len(s)-1]

	out := make([]float32, 0, 64)
	for len(s) > 0 {
		end := strings.IndexByte(s, ',')
		var tok string
		if end < 0 {
			tok, s = s, ""
		} else {
			tok, s = s[:end], s[end+1:]
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(f))
	}
	return out, nil
}
