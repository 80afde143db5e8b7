package text

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDocument = errors.New("document yields no chunks")
	ErrBadChunking   = errors.New("invalid chunking parameters")
)

// Chunk is one fixed-size window of a source document. Offsets are rune
// offsets into the normalized text, so consecutive chunks overlap by exactly
// the configured overlap and together cover the whole document with no gaps.
type Chunk struct {
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
	ContentHash string
}

// Normalize prepares raw document bytes for chunking: strips a UTF-8 BOM and
// collapses CRLF line endings. Hashing happens after normalization so the
// same document produces the same content hash on every platform.
func Normalize(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return raw
}

// Split cuts text into windows of size runes, each carrying the trailing
// overlap runes of its predecessor. The window policy is characters (runes),
// not tokens. The final window may be shorter; the loop stops as soon as a
// window reaches the end of the text, so no window is fully contained in the
// one before it.
//
// Split is pure: same inputs, same chunks.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrBadChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrBadChunking, overlap, size)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, ErrEmptyDocument
	}

	step := size - overlap
	var chunks []Chunk

	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		body := string(runes[start:end])
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        body,
			StartOffset: start,
			EndOffset:   end,
			ContentHash: Hash(body),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// Hash returns the hex sha256 of s. Used for both whole-document and
// per-chunk staleness detection.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// MergeAdjacent joins the texts of two overlapping neighbor chunks back into
// the contiguous span they were cut from. prev must directly precede next.
func MergeAdjacent(prev, next string, overlap int) string {
	nextRunes := []rune(next)
	if overlap >= len(nextRunes) {
		return prev
	}
	return prev + string(nextRunes[overlap:])
}
