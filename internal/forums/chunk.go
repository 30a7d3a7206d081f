package forums

import "strings"

// MessageDelimiter separates paragraphs in scraped forum HTML.
const MessageDelimiter = "<br/><br/>"

const (
	minTargetWords = 200
	maxTargetWords = 600
)

// SplitMessage splits a message on delimiter and greedily merges neighbouring
// pieces back together while the merged piece stays within targetWords.
// Words are counted on the merged text, where a delimiter without whitespace
// around it joins the words on either side.
func SplitMessage(message string, targetWords int, delimiter string) []string {
	pieces := strings.Split(message, delimiter)
	chunks := []string{pieces[0]}
	lastWords := wordCount(pieces[0])

	for _, piece := range pieces[1:] {
		words := wordCount(piece)
		if lastWords+words > targetWords {
			chunks = append(chunks, piece)
			lastWords = words
			continue
		}
		chunks[len(chunks)-1] += delimiter + piece
		lastWords = wordCount(chunks[len(chunks)-1])
	}

	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
