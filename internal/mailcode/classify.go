package mailcode

import "strings"

// Classifier decides whether a message is verification mail. It is an
// interface because the default is a lossy heuristic: callers that know
// the site's exact sender can swap in something stricter.
type Classifier interface {
	IsVerification(e Email) bool
}

// defaultKeywords match the site's known verification mail phrasing.
var defaultKeywords = []string{"verification", "verify", "confirmation code", "인증번호"}

// Heuristic is the default classifier: known sender OR keyword in
// subject/body. This is an OR of weak signals, not a strict classifier;
// false positives are possible and tolerated because a non-matching code
// shape is rejected downstream anyway.
type Heuristic struct {
	Senders  []string
	Keywords []string
}

// NewHeuristic builds the default classifier; empty keyword lists fall
// back to the built-in set.
func NewHeuristic(senders, keywords []string) Heuristic {
	h := Heuristic{Senders: senders, Keywords: keywords}
	if len(h.Keywords) == 0 {
		h.Keywords = defaultKeywords
	}
	return h
}

func (h Heuristic) IsVerification(e Email) bool {
	from := strings.ToLower(e.From)
	for _, s := range h.Senders {
		if s != "" && strings.Contains(from, strings.ToLower(s)) {
			return true
		}
	}
	subject := strings.ToLower(e.Subject)
	body := strings.ToLower(e.Body)
	for _, k := range h.Keywords {
		k = strings.ToLower(k)
		if k == "" {
			continue
		}
		if strings.Contains(subject, k) || strings.Contains(body, k) {
			return true
		}
	}
	return false
}
