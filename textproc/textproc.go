// Package textproc turns raw recognition output into the text that is
// injected: artifact cleanup, user replacements and punctuation.
package textproc

import (
	"cmp"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/internal/types"
	"go.aimuz.me/miaoshu/langdetect"
)

// Gap thresholds between segments for inserted punctuation.
const (
	ClauseGap   = 300 * time.Millisecond
	SentenceGap = 700 * time.Millisecond

	// MinConfidence is required on both sides of a gap. A confidence of 0
	// means the engine did not report one.
	MinConfidence = 0.5
)

var (
	// regexTimestamp matches whisper timestamps like [00:00:00.000 --> 00:00:04.000]
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}(?::\d{2})?\.\d{3}\s*-->\s*\d{2}:\d{2}(?::\d{2})?\.\d{3}\]`)
	// regexArtifacts matches [BLANK_AUDIO], (silence) style markers
	regexArtifacts = regexp.MustCompile(`\[(?:BLANK_AUDIO|MUSIC|NOISE|SILENCE|silence|inaudible)\]|\((?:silence|inaudible)\)`)
	// regexTags matches SenseVoice control tags like <|zh|><|NEUTRAL|>
	regexTags  = regexp.MustCompile(`<\|[^|>]*\|>`)
	regexSpace = regexp.MustCompile(`\s+`)
	// regexCJKMarkSpace matches whitespace next to full-width punctuation
	regexCJKMarkSpace = regexp.MustCompile(`\s*([，。！？、；：「」『』（）《》])\s*`)
)

const (
	sentenceEnds = "。！？.!?…"
	clauseMarks  = "，,、；;：:"
)

// Processor applies the configured post-processing. It is safe for
// concurrent use.
type Processor struct {
	auto     bool
	hotwords *strings.Replacer
	punct    *strings.Replacer
	rules    []rule

	// detect returns an ISO 639-1 code or "auto".
	detect func(text string) string
	log    *slog.Logger
}

type rule struct {
	re      *regexp.Regexp
	replace string
}

// New builds a processor from configuration. Invalid text_rules patterns are
// skipped with a warning.
func New(cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		auto:     cfg.AutoPunctuation,
		hotwords: longestFirst(cfg.Hotwords),
		punct:    longestFirst(cfg.PunctuationMap),
		detect: func(text string) string {
			code, _ := langdetect.Detect(text)
			return code
		},
		log: logger.With("component", "textproc"),
	}

	for i, r := range cfg.TextRules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			p.log.Warn("skipping invalid text rule", "index", i, "pattern", r.Pattern, "error", err)
			continue
		}
		p.rules = append(p.rules, rule{re: re, replace: r.Replace})
	}
	return p
}

// longestFirst builds a replacer that prefers the longest key at each
// position. Empty keys are ignored.
func longestFirst(m map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return strings.NewReplacer(pairs...)
}

// Process returns the final text for t. It never fails; on any
// inconsistency it falls back to the cleaned raw text.
func (p *Processor) Process(t *types.Transcript) string {
	if t == nil {
		return ""
	}

	text := strings.TrimSpace(t.Text)
	if text == "" {
		text = t.SegmentText()
	}
	text = clean(text)
	if text == "" {
		return ""
	}

	var marks punctuation
	if p.auto {
		marks = marksFor(p.scriptOf(t, text))
	}

	// Inner punctuation from the engine (ITN output included) is kept; gap
	// marks only go into bare text. The terminal mark is decided from the
	// final text either way.
	if p.auto && !t.Punctuated && !hasPunctuation(text) {
		if withGaps, ok := insertGapMarks(text, t.Segments, marks); ok {
			text = withGaps
		} else {
			p.log.Debug("segments inconsistent with text, skipping gap punctuation")
		}
	}

	if p.hotwords != nil {
		text = p.hotwords.Replace(text)
	}
	if p.punct != nil {
		text = p.punct.Replace(text)
	}
	for _, r := range p.rules {
		text = r.re.ReplaceAllString(text, r.replace)
	}

	if p.auto {
		text = terminate(text, marks)
	}
	return tidy(text)
}

// clean removes engine artifacts, collapses whitespace and normalises to NFC.
func clean(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = regexArtifacts.ReplaceAllString(text, "")
	text = regexTags.ReplaceAllString(text, "")
	text = regexSpace.ReplaceAllString(text, " ")
	return norm.NFC.String(strings.TrimSpace(text))
}

func hasPunctuation(text string) bool {
	return strings.ContainsAny(text, sentenceEnds+clauseMarks)
}

type punctuation struct {
	clause   string
	sentence string
	cjk      bool
}

func marksFor(cjk bool) punctuation {
	if cjk {
		return punctuation{clause: "，", sentence: "。", cjk: true}
	}
	return punctuation{clause: ",", sentence: "."}
}

// scriptOf reports whether text should get full-width punctuation: from the
// transcript language, then language detection, then the runes themselves.
func (p *Processor) scriptOf(t *types.Transcript, text string) bool {
	lang := t.Language
	if lang == "" || lang == "auto" {
		lang = p.detect(text)
	}
	if lang != "" && lang != "auto" {
		return langdetect.IsCJK(lang)
	}
	return mostlyCJK(text)
}

func mostlyCJK(text string) bool {
	var cjk, latin int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
			cjk++
		case unicode.IsLetter(r):
			latin++
		}
	}
	return cjk > 0 && cjk >= latin
}

// insertGapMarks rebuilds text from segments, placing a clause or sentence
// mark at long pauses between confident segments. It returns false when the
// segments are unordered, overlapping or do not spell out text.
func insertGapMarks(text string, segs []types.Segment, marks punctuation) (string, bool) {
	if len(segs) < 2 {
		return text, len(segs) == 0 || clean(segs[0].Text) == text
	}

	var joined strings.Builder
	for _, s := range segs {
		joined.WriteString(s.Text)
	}
	if clean(joined.String()) != text {
		return text, false
	}

	var b strings.Builder
	b.WriteString(segs[0].Text)
	for i := 1; i < len(segs); i++ {
		prev, cur := segs[i-1], segs[i]
		if cur.Start < prev.Start || cur.Start < prev.End || prev.End < prev.Start {
			return text, false
		}

		mark := ""
		if confident(prev) && confident(cur) {
			switch gap := cur.Start - prev.End; {
			case gap >= SentenceGap:
				mark = marks.sentence
			case gap >= ClauseGap:
				mark = marks.clause
			}
		}
		if mark != "" && strings.TrimSpace(cur.Text) != "" {
			trimmed := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(trimmed)
			b.WriteString(mark)
			if !marks.cjk && !strings.HasPrefix(cur.Text, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(cur.Text)
	}
	return clean(b.String()), true
}

func confident(s types.Segment) bool {
	return s.Confidence == 0 || s.Confidence >= MinConfidence
}

// terminate ensures text ends with a sentence mark, replacing a trailing
// clause mark.
func terminate(text string, marks punctuation) string {
	text = strings.TrimRight(text, " ")
	if text == "" {
		return text
	}
	if r := lastRune(text); strings.ContainsRune(sentenceEnds, r) {
		return text
	}
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return strings.ContainsRune(clauseMarks, r)
	})
	return text + marks.sentence
}

// tidy collapses repeated marks and strips spaces around full-width
// punctuation.
func tidy(text string) string {
	var b strings.Builder
	var prev rune
	for _, r := range text {
		if r == prev && r != '.' && strings.ContainsRune(sentenceEnds+clauseMarks, r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	text = regexCJKMarkSpace.ReplaceAllString(b.String(), "$1")
	return strings.TrimSpace(text)
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
