// Package moderation censors disallowed words in chat text before it is
// persisted or broadcast. Matching runs over a normalized view of the text
// (lowercased, leet-speak folded, punctuation stripped) while replacement
// happens on the original runes, so spacing and casing survive.
package moderation

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/abadojack/whatlanggo"
)

//go:embed words/*.txt
var wordFiles embed.FS

type Censor struct {
	machine     *goahocorasick.Machine
	replacement rune
}

// NewCensor builds the Aho-Corasick automaton over the normalized word list.
func NewCensor(words []string, replacement rune) (Censor, error) {
	patterns := make([][]rune, len(words))
	for i, word := range words {
		patterns[i] = normalize([]rune(word), nil)
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return Censor{}, err
	}
	return Censor{machine: machine, replacement: replacement}, nil
}

// DefaultWords loads the embedded censored word lists, one word per line.
func DefaultWords() ([]string, error) {
	var words []string
	err := fs.WalkDir(wordFiles, "words", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		file, err := wordFiles.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			words = append(words, word)
		}
		return scanner.Err()
	})
	return words, err
}

// Apply replaces every matched span in the original text with the
// replacement rune. The second return reports whether anything matched.
func (c Censor) Apply(original string) (string, bool) {
	origRunes := []rune(original)
	var origIdx []int
	norm := normalize(origRunes, &origIdx)
	if len(norm) == 0 {
		return original, false
	}

	spans := c.machine.MultiPatternSearch(norm, false)
	if len(spans) == 0 {
		return original, false
	}

	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			origRunes[i] = c.replacement
		}
	}
	return string(origRunes), true
}

// DetectLanguage returns the ISO 639-1 code of the dominant language, or
// an empty string when detection is inconclusive.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// normalize lowercases, folds leet-speak and drops punctuation, spacing and
// symbols. When idx is non-nil it records, per kept rune, the index of the
// originating rune in the input.
func normalize(input []rune, idx *[]int) []rune {
	norm := make([]rune, 0, len(input))
	for i, r := range input {
		clean := foldLeet(r)
		if unicode.IsPunct(clean) || unicode.IsSpace(clean) || unicode.IsSymbol(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		if idx != nil {
			*idx = append(*idx, i)
		}
	}
	return norm
}

func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
