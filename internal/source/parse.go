package source

import (
	"regexp"
	"strings"
)

var (
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
	scriptStylePattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<noscript[^>]*>.*?</noscript>`)
	sentencePattern    = regexp.MustCompile(`[^.!?]+[.!?]`)

	deathVocabulary = []string{
		"died", "death", "dead", "killed", "suicide", "overdose",
		"passed away", "fatal", "succumbed", "obituary",
	}

	circumstancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)died of (?:complications (?:of|from) )?([a-z][^.;,()]{2,70})`),
		regexp.MustCompile(`(?i)died from (?:complications (?:of|from) )?([a-z][^.;,()]{2,70})`),
		regexp.MustCompile(`(?i)died after a (?:long |short |brief )?(?:battle|bout|struggle) with ([a-z][^.;,()]{2,70})`),
		regexp.MustCompile(`(?i)cause of death was ([a-z][^.;,()]{2,70})`),
		regexp.MustCompile(`(?i)death was (?:caused by|attributed to|ruled) (?:an? )?([a-z][^.;,()]{2,70})`),
		regexp.MustCompile(`(?i)succumbed to ([a-z][^.;,()]{2,70})`),
	}

	locationPattern = regexp.MustCompile(`(?i)died[^.!?]*? (?:in|at) ([A-Z][A-Za-z.' -]+(?:, [A-Z][A-Za-z.' -]+)*)`)

	// A capitalized word or year after "in"/"at"/"on", or a weekday, marks
	// where a cause phrase drifts into a place or date ("pneumonia in Los
	// Angeles", "a stroke in 1960", "pneumonia Monday at the hospital").
	locationTail = regexp.MustCompile(` (?:in|at|on) [A-Z0-9]| (?:Mon|Tues|Wednes|Thurs|Fri|Satur|Sun)day`)
)

// cleanHTML strips tags and decodes the handful of entities that show up in
// search snippets.
func cleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&#x27;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// pageText reduces a fetched HTML page to its readable text.
func pageText(html string) string {
	html = scriptStylePattern.ReplaceAllString(html, " ")
	return collapseSpace(cleanHTML(html))
}

// surname returns the final space-separated token of a name.
func surname(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// deathSentences returns the sentences of a text that mention dying.
func deathSentences(text string) []string {
	var out []string
	for _, raw := range sentencePattern.FindAllString(text, -1) {
		sentence := collapseSpace(raw)
		lower := strings.ToLower(sentence)
		for _, word := range deathVocabulary {
			if strings.Contains(lower, word) {
				out = append(out, sentence)
				break
			}
		}
	}
	return out
}

// extractCircumstances pulls a cause-of-death phrase out of free text, or "".
func extractCircumstances(text string) string {
	for _, pat := range circumstancePatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		phrase := m[1]
		if tail := locationTail.FindStringIndex(phrase); tail != nil {
			phrase = phrase[:tail[0]]
		}
		return trimClause(phrase)
	}
	return ""
}

// extractLocation pulls a place-of-death phrase out of free text, or "".
func extractLocation(text string) string {
	m := locationPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	loc := trimClause(m[1])
	// The pattern is greedy enough to swallow trailing date phrases.
	for _, cut := range []string{" on ", " aged", " at the age"} {
		if i := strings.Index(loc, cut); i > 0 {
			loc = loc[:i]
		}
	}
	return strings.TrimSpace(loc)
}

func trimClause(s string) string {
	s = collapseSpace(s)
	s = strings.Trim(s, " .,;:-")
	return s
}
