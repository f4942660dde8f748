package embedding

import "strings"

// Splitter breaks a text into overlapping chunks, preferring to cut at the
// strongest separator that still yields pieces under the chunk size.
type Splitter struct {
	Separators []string
	ChunkSize  int
	Overlap    int
}

// NewSplitter returns a splitter with the separator ladder tuned for running
// prose: paragraph, line, sentence, clause, word.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}
	return &Splitter{
		Separators: []string{"\n\n", "\n", ". ", ", ", " "},
		ChunkSize:  chunkSize,
		Overlap:    overlap,
	}
}

// Split returns the chunk texts in document order.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	pieces := s.split(text, s.Separators)
	return s.merge(pieces)
}

// split recursively cuts the text at the first separator that occurs,
// descending the ladder for any piece still over the chunk size.
func (s *Splitter) split(text string, separators []string) []string {
	if len(text) <= s.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	rest := separators[1:]

	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.split(text, rest)
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) <= s.ChunkSize {
			out = append(out, part)
			continue
		}
		out = append(out, s.split(part, rest)...)
	}
	return out
}

// hardSplit cuts at fixed offsets when no separator is left.
func (s *Splitter) hardSplit(text string) []string {
	out := make([]string, 0, len(text)/s.ChunkSize+1)
	for len(text) > s.ChunkSize {
		out = append(out, text[:s.ChunkSize])
		text = text[s.ChunkSize:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// merge packs adjacent pieces into chunks up to the chunk size, carrying
// the configured overlap from the tail of each chunk into the next.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		tail := current.String()
		current.Reset()
		if s.Overlap > 0 && len(tail) > s.Overlap {
			current.WriteString(tail[len(tail)-s.Overlap:])
		}
	}

	for _, piece := range pieces {
		if current.Len()+len(piece) > s.ChunkSize && current.Len() > 0 {
			flush()
		}
		current.WriteString(piece)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunk := strings.TrimSpace(current.String())
		if len(chunks) == 0 || chunks[len(chunks)-1] != chunk {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
