// Package stream paces "think" text to a live client so that it reads as
// if it were being typed.
//
// Text is split into display chunks (URLs, single CJK glyphs, single
// whitespace characters, words) and each chunk is written after a short
// randomized delay. An Emitter serializes fragments through one consumer
// goroutine, so fragments enqueued back to back are delivered in order and
// never interleave.
package stream

import (
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
)

// Chunks splits text into display units. Scanning left to right, a URL
// (http:// or https:// up to whitespace or a closing bracket or quote) is
// one chunk, each CJK glyph and each whitespace character is its own
// chunk, and any other run is cut just before sentence or clause
// punctuation.
func Chunks(text string) []string {
	runes := []rune(text)
	var chunks []string
	var cur []rune
	push := func() {
		if len(cur) > 0 {
			chunks = append(chunks, string(cur))
			cur = cur[:0]
		}
	}

	inURL := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if !inURL && r == 'h' && startsURL(runes[i:]) {
			push()
			inURL = true
		}
		if inURL {
			cur = append(cur, r)
			if next == 0 || unicode.IsSpace(next) || strings.ContainsRune(`])}"'`, next) {
				push()
				inURL = false
			}
			continue
		}

		if isCJK(r) {
			push()
			chunks = append(chunks, string(r))
			continue
		}
		if unicode.IsSpace(r) {
			push()
			chunks = append(chunks, string(r))
			continue
		}

		cur = append(cur, r)
		if next != 0 && strings.ContainsRune(".!?,;:", next) {
			push()
		}
	}
	push()
	return chunks
}

func startsURL(rs []rune) bool {
	s := string(rs[:min(len(rs), 8)])
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isCJK(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) ||
		(r >= 0x3040 && r <= 0x30ff) ||
		(r >= 0xac00 && r <= 0xd7af)
}

// effectiveLength counts CJK glyphs as two units.
func effectiveLength(chunk string) int {
	n := 0
	for _, r := range chunk {
		if isCJK(r) {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Delay returns how long to wait before writing chunk. rnd must return
// values in [0, 1); nil uses math/rand.
func Delay(chunk string, burst bool, rnd func() float64) time.Duration {
	if rnd == nil {
		rnd = rand.Float64
	}
	ms := delayMillis(chunk, burst, rnd)
	return time.Duration(ms * float64(time.Millisecond))
}

func delayMillis(chunk string, burst bool, rnd func() float64) float64 {
	trimmed := strings.TrimSpace(chunk)
	if trimmed == "" {
		return rnd()*20 + 10
	}
	if strings.HasPrefix(chunk, "http://") || strings.HasPrefix(chunk, "https://") {
		return rnd()*50 + 100
	}
	if rs := []rune(chunk); len(rs) == 1 && isCJK(rs[0]) {
		return rnd()*100 + 150
	}

	var d float64
	if burst {
		d = rnd()*30 + 20
	} else {
		perChar := max(10, 40-float64(effectiveLength(chunk))*2)
		d = rnd()*perChar + perChar
	}

	first := []rune(chunk)[0]
	if first >= 'A' && first <= 'Z' {
		d += rnd()*20 + 10
	}
	if strings.IndexFunc(chunk, func(r rune) bool { return !isASCIILetter(r) && !unicode.IsSpace(r) }) >= 0 {
		d += rnd()*30 + 15
	}

	switch chunk[len(chunk)-1] {
	case '.', '!', '?':
		d += rnd()*350 + 200
	case ',', ';', ':':
		d += rnd()*150 + 100
	}
	return d
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// pacer tracks the burst streak across the chunks of one fragment. Three
// consecutive short non-whitespace chunks switch to burst pacing; a long
// chunk or whitespace resets it.
type pacer struct {
	burst bool
	short int
	delay func(chunk string, burst bool) time.Duration
}

func (p *pacer) next(chunk string) time.Duration {
	d := p.delay(chunk, p.burst)
	if effectiveLength(chunk) <= 3 && strings.TrimSpace(chunk) != "" {
		p.short++
		if p.short >= 3 {
			p.burst = true
		}
	} else {
		p.short = 0
		p.burst = false
	}
	return d
}
