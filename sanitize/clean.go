package sanitize

import (
	"regexp"
	"strings"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptScheme = regexp.MustCompile(`(?i)javascript:`)
	eventHandler = regexp.MustCompile(`(?i)on\w+\s*=`)
	angles       = strings.NewReplacer("<", "", ">", "")
)

func pass(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = scriptScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	s = angles.Replace(s)
	return strings.TrimSpace(s)
}

// CleanString runs the pipeline until s stops changing. Every step only
// removes bytes, so the loop terminates.
func CleanString(s string) string {
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

// Clean returns v with every string leaf cleaned and the number of leaves
// that changed.
func Clean(v Value) (Value, int) {
	changed := 0
	out := Walk(v, StringVisitor(func(s string) string {
		cleaned := CleanString(s)
		if cleaned != s {
			changed++
		}
		return cleaned
	}))
	return out, changed
}

// CleanJSON parses, cleans and re-encodes a JSON document.
func CleanJSON(data []byte) ([]byte, int, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, 0, err
	}
	cleaned, changed := Clean(v)
	if changed == 0 {
		return data, 0, nil
	}
	out, err := cleaned.MarshalJSON()
	if err != nil {
		return nil, 0, err
	}
	return out, changed, nil
}
