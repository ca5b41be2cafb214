package ml

import "strings"

// MaxChunkLen bounds one text chunk for embedding. The text encoder
// truncates silently past its window; chunking keeps recall instead.
const MaxChunkLen = 512

// PreviewLen bounds the chunk preview stored in search payloads.
const PreviewLen = 200

// ChunkText splits content into chunks of at most maxLen characters,
// preferring sentence boundaries (". "). A single sentence longer than
// maxLen is hard-split. Empty input yields no chunks.
func ChunkText(content string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxChunkLen
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	sentences := splitSentences(content)
	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		for len(sentence) > maxLen {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, strings.TrimSpace(sentence[:maxLen]))
			sentence = sentence[maxLen:]
		}
		if sentence == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxLen {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitSentences(content string) []string {
	parts := strings.SplitAfter(content, ". ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Preview truncates a chunk for display in search results.
func Preview(chunk string) string {
	chunk = strings.TrimSpace(chunk)
	if len(chunk) <= PreviewLen {
		return chunk
	}
	return chunk[:PreviewLen]
}
