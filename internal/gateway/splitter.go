package gateway

import "strings"

// sentenceEndings mark a boundary only when punctuation is followed by a
// space, closing quote or newline; a bare '.' is not enough ("3.14" must not
// split mid-number).
var sentenceEndings = []string{". ", "! ", "? ", ".\"", "!\"", "?\"", ".\n", "!\n", "?\n"}

// SentenceSplitter accumulates streamed text deltas and emits complete
// sentences as they form, for downstream speech pacing.
type SentenceSplitter struct {
	buf strings.Builder
}

// Feed appends a delta and returns any sentences completed by it, in order.
func (sp *SentenceSplitter) Feed(delta string) []string {
	sp.buf.WriteString(delta)
	var out []string
	for {
		s := sp.buf.String()
		cut := -1
		keep := 0
		cutLen := 0
		for _, ending := range sentenceEndings {
			if i := strings.Index(s, ending); i >= 0 && (cut < 0 || i < cut) {
				cut = i
				// keep the punctuation (and a closing quote) with the sentence
				keep = len(strings.TrimRight(ending, " \n"))
				cutLen = len(ending)
			}
		}
		if cut < 0 {
			return out
		}
		sentence := strings.TrimSpace(s[:cut+keep])
		rest := s[cut+cutLen:]
		if sentence != "" {
			out = append(out, sentence)
		}
		sp.buf.Reset()
		sp.buf.WriteString(rest)
	}
}

// Flush returns whatever is buffered as a final sentence, or "" if nothing
// meaningful remains.
func (sp *SentenceSplitter) Flush() string {
	s := strings.TrimSpace(sp.buf.String())
	sp.buf.Reset()
	return s
}
