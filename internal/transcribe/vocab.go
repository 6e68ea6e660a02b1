package transcribe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// blankToken names the TDT blank symbol in vocabulary files.
const blankToken = "<blk>"

// Vocabulary maps token ids to text pieces.
type Vocabulary struct {
	tokens map[int]string
	// Blank is the id of "<blk>", or Size()-1 when the file has none.
	Blank int
}

// LoadVocabulary reads a vocabulary file of "token id" lines.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	defer f.Close()
	return ParseVocabulary(f)
}

// ParseVocabulary parses "token id" lines. The SentencePiece word marker
// "▁" becomes a space. Lines without a numeric id are skipped.
func ParseVocabulary(r io.Reader) (*Vocabulary, error) {
	tokens := make(map[int]string)
	blank := -1

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		piece, rawID, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rawID))
		if err != nil {
			continue
		}
		if piece == blankToken {
			blank = id
		}
		tokens[id] = strings.ReplaceAll(piece, "▁", " ")
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	if blank < 0 {
		blank = len(tokens) - 1
	}
	return &Vocabulary{tokens: tokens, Blank: blank}, nil
}

// Size is the number of token logits the joint network produces.
func (v *Vocabulary) Size() int { return len(v.tokens) }

// Decode joins the pieces for ids, dropping unknown ids.
func (v *Vocabulary) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if piece, ok := v.tokens[id]; ok {
			b.WriteString(piece)
		}
	}
	return strings.TrimSpace(b.String())
}
