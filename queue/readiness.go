package queue

import "strings"

// TextSource identifies which field supplied the text to be read aloud.
type TextSource int

const (
	// SourceNone means the tab has nothing playable.
	SourceNone TextSource = iota
	// SourceTranslation means the translated text is read.
	SourceTranslation
	// SourceSummary means the summary is read.
	SourceSummary
	// SourceContent means the raw extracted page text is read.
	SourceContent
)

// String returns the string representation of the source.
func (s TextSource) String() string {
	switch s {
	case SourceTranslation:
		return "translation"
	case SourceSummary:
		return "summary"
	case SourceContent:
		return "content"
	default:
		return "none"
	}
}

// Readiness is the resolved playable text of a tab. A zero Readiness means
// the tab is not ready to be read.
type Readiness struct {
	Text   string
	Source TextSource
}

// Ready reports whether playable text was found.
func (r Readiness) Ready() bool {
	return r.Source != SourceNone
}

// readinessOf picks the playback text: translation wins over summary, summary
// over raw content. The first non-empty trimmed candidate is used.
func readinessOf(content, summary, translation string) Readiness {
	if text := strings.TrimSpace(translation); text != "" {
		return Readiness{Text: text, Source: SourceTranslation}
	}
	if text := strings.TrimSpace(summary); text != "" {
		return Readiness{Text: text, Source: SourceSummary}
	}
	if text := strings.TrimSpace(content); text != "" {
		return Readiness{Text: text, Source: SourceContent}
	}
	return Readiness{}
}
