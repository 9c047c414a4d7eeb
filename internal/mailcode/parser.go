package mailcode

import "regexp"

// Extraction patterns, in priority order. The bare digit run comes first:
// an unambiguous 4-6 digit number is almost always the code, while the
// labelled forms also match noisier text and act as a fallback.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([0-9]{4,6})\b`),
	regexp.MustCompile(`(?i)verification\s+code\s*[:：]?\s*([A-Za-z0-9]{4,8})`),
	regexp.MustCompile(`(?i)\bcode\s*[:：]\s*([A-Za-z0-9]{4,8})`),
}

// codeShape is the validity filter applied to every candidate.
var codeShape = regexp.MustCompile(`^[A-Za-z0-9]{4,8}$`)

// ExtractCode scans subject then body against the pattern list and returns
// the first candidate with a valid shape. Absence is ErrNoCode, never "".
func ExtractCode(subject, body string) (string, error) {
	for _, re := range codePatterns {
		for _, text := range []string{subject, body} {
			if text == "" {
				continue
			}
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				if len(m) > 1 && codeShape.MatchString(m[1]) {
					return m[1], nil
				}
			}
		}
	}
	return "", ErrNoCode
}
