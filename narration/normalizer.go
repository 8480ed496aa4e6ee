package narration

import "regexp"

// normalizeForSpeech strips structural markup from assistant text so the
// synthesized speech is natural prose.
func normalizeForSpeech(text string) string {
	// drop fenced code blocks entirely; code is not prose
	text = fencedBlockRegex.ReplaceAllString(text, " ")
	text = danglingFenceRegex.ReplaceAllString(text, " ")

	// keep link text, drop the target
	text = linkRegex.ReplaceAllString(text, "$1")

	// remove heading markers and horizontal rules
	text = headingRegex.ReplaceAllString(text, "")
	text = horizontalRuleRegex.ReplaceAllString(text, " ")

	// remove emphasis and inline-code markers
	text = removeMarkers(text)

	// replace multiple spaces with a single space
	text = multipleSpacesRegex.ReplaceAllString(text, " ")

	// trim leading and trailing whitespace
	text = trimWhitespaceRegex.ReplaceAllString(text, "")

	return text
}

func removeMarkers(text string) string {
	for _, marker := range []string{"**", "__", "~~", "*", "`"} {
		text = regexp.MustCompile(regexp.QuoteMeta(marker)).ReplaceAllString(text, "")
	}
	return text
}

var (
	fencedBlockRegex    = regexp.MustCompile("(?s)```.*?```")
	danglingFenceRegex  = regexp.MustCompile("(?s)```.*$")
	linkRegex           = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRegex        = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	horizontalRuleRegex = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
	trimWhitespaceRegex = regexp.MustCompile(`^\s+|\s+$`)
)
