package session

import "regexp"

// thinkSpan matches one reasoning span, shortest first. (?s) lets the span
// cross newlines.
var thinkSpan = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// QuoteThinking rewrites every <think>...</think> span into a <quote> aside.
// It runs once on the final text; partial output keeps the raw tags.
//
// Nested spans can leave a matchable span behind after one replacement pass
// ("<think>a<think>b</think>c</think>"), so passes repeat until nothing
// matches. Every pass removes at least one <think>, and the result is a fixed
// point: applying QuoteThinking again returns it unchanged.
func QuoteThinking(text string) string {
	for thinkSpan.MatchString(text) {
		text = thinkSpan.ReplaceAllString(text, "<quote>$1</quote>")
	}
	return text
}
