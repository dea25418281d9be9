package retrieval

import (
	"strings"

	"qualgen/pkg/tokens"
)

// Chunk is a contiguous slice of a document prepared for embedding.
type Chunk struct {
	Index   int
	Section string
	Content string
}

// splitDocument breaks a URS document into chunks of roughly chunkSize
// tokens with overlap tokens carried between neighbors. Paragraphs are
// the unit of assembly; a single paragraph larger than chunkSize becomes
// its own chunk rather than being split mid-sentence.
func splitDocument(content string, chunkSize, overlap int) []Chunk {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	var currentTokens int
	section := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Section: section,
			Content: strings.Join(current, "\n\n"),
		})

		// Carry trailing paragraphs into the next chunk as overlap.
		var carried []string
		var carriedTokens int
		for i := len(current) - 1; i >= 0 && carriedTokens < overlap; i-- {
			carried = append([]string{current[i]}, carried...)
			carriedTokens += tokens.CountSimple(current[i])
		}
		current = carried
		currentTokens = carriedTokens
	}

	for _, para := range paragraphs {
		if heading := detectHeading(para); heading != "" {
			section = heading
		}

		paraTokens := tokens.CountSimple(para)
		if currentTokens+paraTokens > chunkSize && currentTokens > 0 {
			flush()
		}
		current = append(current, para)
		currentTokens += paraTokens
	}
	flush()

	return chunks
}

// splitParagraphs splits on blank lines and drops empty segments.
func splitParagraphs(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// detectHeading recognizes markdown headings and numbered URS section
// titles so chunks can cite the section they came from.
func detectHeading(para string) string {
	firstLine := para
	if nl := strings.IndexByte(para, '\n'); nl != -1 {
		firstLine = para[:nl]
	}
	firstLine = strings.TrimSpace(firstLine)

	if strings.HasPrefix(firstLine, "#") {
		return strings.TrimSpace(strings.TrimLeft(firstLine, "# "))
	}

	// Numbered sections like "3.2 Audit Trail Requirements".
	if len(firstLine) > 0 && firstLine[0] >= '0' && firstLine[0] <= '9' {
		fields := strings.Fields(firstLine)
		if len(fields) >= 2 && len(fields) <= 10 && strings.ContainsAny(fields[0], ".") {
			return firstLine
		}
	}

	return ""
}
