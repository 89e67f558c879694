package summary

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTopWords is how many words are published to the word cloud.
const DefaultTopWords = 30

var wordRe = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

// stopwords are common English function words excluded from the word cloud.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the a an and or but in on at to for of with by from as is was are were
		been be have has had do does did will would could should may might must
		shall can need about into through during before after above below
		between under again further then once here there when where why how
		all each few more most other some such no nor not only own same so
		than too very just also now our their this that these those i we you
		he she it they what which who whom my your his her its us them am`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the lowercase token is excluded from counting.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// WordCount is one entry of a frequency table.
type WordCount struct {
	Word  string
	Count int
}

// Frequencies is the full word frequency table of one run.
type Frequencies struct {
	counts map[string]int
}

// ExtractWords tokenizes every non-blank text and counts the surviving
// tokens under their capitalized form ("QUICK", "quick" -> "Quick").
func ExtractWords(texts []string) Frequencies {
	caser := cases.Title(language.English)
	f := Frequencies{counts: make(map[string]int)}
	for _, text := range texts {
		if IsBlank(text) {
			continue
		}
		for _, tok := range wordRe.FindAllString(text, -1) {
			lw := strings.ToLower(tok)
			if IsStopword(lw) {
				continue
			}
			f.counts[caser.String(lw)]++
		}
	}
	return f
}

// Len returns the number of distinct words.
func (f Frequencies) Len() int { return len(f.counts) }

// Count returns how often the display word occurred.
func (f Frequencies) Count(word string) int { return f.counts[word] }

// All returns every word by descending count; ties are ordered
// alphabetically so reruns produce the same table.
func (f Frequencies) All() []WordCount {
	out := make([]WordCount, 0, len(f.counts))
	for w, c := range f.counts {
		out = append(out, WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}

// Top returns the n most frequent words. n <= 0 returns nothing.
func (f Frequencies) Top(n int) []WordCount {
	if n <= 0 {
		return nil
	}
	all := f.All()
	if len(all) > n {
		all = all[:n]
	}
	return all
}
