// Package lexicon holds the locale data familiar scores text against:
// self-identification and fact patterns, topic/emotion/formality/urgency
// term sets, stopwords and spoken identity commands. Tables are YAML, one per locale;
// adding a locale is a data change.
package lexicon

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

// Command is a spoken identity command.
type Command string

const (
	CmdSwitchUser Command = "switch_user"
	CmdListUsers  Command = "list_users"
	CmdWhoAmI     Command = "who_am_i"
	CmdCreateUser Command = "create_user"
	CmdDeleteUser Command = "delete_user"
	CmdForgetMe   Command = "forget_me"
)

// commandOrder fixes match precedence; forget_me is checked before the
// generic delete pattern.
var commandOrder = []Command{CmdForgetMe, CmdWhoAmI, CmdListUsers, CmdCreateUser, CmdDeleteUser, CmdSwitchUser}

// FactPattern extracts one attribute (capture group 1) from raw text.
type FactPattern struct {
	Key   string
	Re    *regexp.Regexp
	Multi bool // accumulate values instead of replacing
}

// Lexicon is the merged view over one or more locale tables.
type Lexicon struct {
	Normalizer Normalizer
	Locales    []string

	SelfID    []*regexp.Regexp
	StopNames map[string]bool
	Facts     []FactPattern
	Topics    map[string]*TermSet
	Emotions  map[string]*TermSet
	Urgency   map[string]*TermSet // keyed by level, see UrgencyLevels
	Formal    *TermSet
	Informal  *TermSet
	Stopwords map[string]bool
	Commands  map[Command][]*regexp.Regexp
}

type table struct {
	Locale             string              `yaml:"locale"`
	SelfIdentification []string            `yaml:"self_identification"`
	StopNames          []string            `yaml:"stop_names"`
	Facts              []factTable         `yaml:"facts"`
	Topics             map[string][]string `yaml:"topics"`
	Emotions           map[string][]string `yaml:"emotions"`
	Urgency            map[string][]string `yaml:"urgency"`
	Formality          struct {
		Formal   []string `yaml:"formal"`
		Informal []string `yaml:"informal"`
	} `yaml:"formality"`
	Stopwords []string            `yaml:"stopwords"`
	Commands  map[string][]string `yaml:"commands"`
}

type factTable struct {
	Key     string `yaml:"key"`
	Pattern string `yaml:"pattern"`
	Multi   bool   `yaml:"multi"`
}

func newLexicon(n Normalizer) *Lexicon {
	return &Lexicon{
		Normalizer: n,
		StopNames:  map[string]bool{},
		Topics:     map[string]*TermSet{},
		Emotions:   map[string]*TermSet{},
		Urgency:    map[string]*TermSet{},
		Formal:     newTermSet(),
		Informal:   newTermSet(),
		Stopwords:  map[string]bool{},
		Commands:   map[Command][]*regexp.Regexp{},
	}
}

// Load merges the named locale tables. A table found in dir replaces the
// embedded one of the same name; dir may also add locales that are not
// embedded. An empty dir uses only embedded tables.
func Load(n Normalizer, dir string, locales ...string) (*Lexicon, error) {
	if len(locales) == 0 {
		return nil, errors.New("no locales configured")
	}
	lx := newLexicon(n)
	for _, loc := range locales {
		data, err := readTable(dir, loc)
		if err != nil {
			return nil, err
		}
		if err := lx.add(data); err != nil {
			return nil, fmt.Errorf("locale %s: %w", loc, err)
		}
	}
	return lx, nil
}

// Parse builds a Lexicon from raw YAML tables.
func Parse(n Normalizer, tables ...[]byte) (*Lexicon, error) {
	lx := newLexicon(n)
	for i, data := range tables {
		if err := lx.add(data); err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
	}
	return lx, nil
}

// Default loads the embedded pt and en tables with diacritic folding.
func Default() (*Lexicon, error) {
	return Load(FoldNormalizer{}, "", "pt", "en")
}

// MustDefault is Default for tests and package-level setup.
func MustDefault() *Lexicon {
	lx, err := Default()
	if err != nil {
		panic(err)
	}
	return lx
}

func readTable(dir, locale string) ([]byte, error) {
	name := locale + ".yaml"
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read locale table: %w", err)
		}
	}
	data, err := builtin.ReadFile("locales/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown locale %q", locale)
	}
	return data, nil
}

func (lx *Lexicon) add(data []byte) error {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if t.Locale != "" {
		lx.Locales = append(lx.Locales, t.Locale)
	}

	for _, p := range t.SelfIdentification {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("self_identification %q: %w", p, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("self_identification %q: needs a capture group", p)
		}
		lx.SelfID = append(lx.SelfID, re)
	}
	for _, s := range t.StopNames {
		lx.StopNames[lx.Normalizer.Fold(s)] = true
	}
	for _, f := range t.Facts {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("fact %s: %w", f.Key, err)
		}
		if f.Key == "" || re.NumSubexp() < 1 {
			return fmt.Errorf("fact %q: needs a key and a capture group", f.Key)
		}
		lx.Facts = append(lx.Facts, FactPattern{Key: f.Key, Re: re, Multi: f.Multi})
	}
	for cat, terms := range t.Topics {
		lx.termSet(lx.Topics, cat).add(lx.Normalizer, terms)
	}
	for cat, terms := range t.Emotions {
		lx.termSet(lx.Emotions, cat).add(lx.Normalizer, terms)
	}
	for level, terms := range t.Urgency {
		if !slices.Contains(UrgencyLevels, level) {
			return fmt.Errorf("urgency: unknown level %q", level)
		}
		lx.termSet(lx.Urgency, level).add(lx.Normalizer, terms)
	}
	lx.Formal.add(lx.Normalizer, t.Formality.Formal)
	lx.Informal.add(lx.Normalizer, t.Formality.Informal)
	for _, w := range t.Stopwords {
		lx.Stopwords[lx.Normalizer.Fold(w)] = true
	}
	for name, patterns := range t.Commands {
		cmd := Command(name)
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("command %s: %w", name, err)
			}
			lx.Commands[cmd] = append(lx.Commands[cmd], re)
		}
	}
	return nil
}

func (lx *Lexicon) termSet(m map[string]*TermSet, cat string) *TermSet {
	ts, ok := m[cat]
	if !ok {
		ts = newTermSet()
		m[cat] = ts
	}
	return ts
}

// Tokenize folds and splits text with the lexicon's normalizer.
func (lx *Lexicon) Tokenize(text string) []string {
	return Tokenize(lx.Normalizer, text)
}

// ContentTerms returns the distinct non-stopword tokens of text, sorted.
func (lx *Lexicon) ContentTerms(text string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, tok := range lx.Tokenize(text) {
		if lx.Stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	sort.Strings(terms)
	return terms
}

// UrgencyLevels are the urgency table's levels, most urgent first.
var UrgencyLevels = []string{"critical", "high"}

// UrgencyOf returns the most urgent level whose markers occur in text, or ""
// when none do.
func (lx *Lexicon) UrgencyOf(text string) string {
	tokens := lx.Tokenize(text)
	for _, level := range UrgencyLevels {
		if ts, ok := lx.Urgency[level]; ok && ts.Count(tokens) > 0 {
			return level
		}
	}
	return ""
}

// IsStopName reports whether a captured self-identification name should be
// rejected (assistant names, brands, common words).
func (lx *Lexicon) IsStopName(name string) bool {
	return lx.StopNames[lx.Normalizer.Fold(name)]
}

// MatchCommand returns the first identity command text expresses, with its
// argument (a user name) when the pattern captures one.
func (lx *Lexicon) MatchCommand(text string) (Command, string, bool) {
	for _, cmd := range commandOrder {
		for _, re := range lx.Commands[cmd] {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			arg := ""
			if len(m) > 1 {
				arg = strings.TrimSpace(m[1])
			}
			return cmd, arg, true
		}
	}
	return "", "", false
}

// TermSet is a folded set of single words and multi-word phrases.
type TermSet struct {
	words   map[string]bool
	phrases [][]string
}

func newTermSet() *TermSet {
	return &TermSet{words: map[string]bool{}}
}

func (ts *TermSet) add(n Normalizer, terms []string) {
	for _, term := range terms {
		parts := Tokenize(n, term)
		switch len(parts) {
		case 0:
		case 1:
			ts.words[parts[0]] = true
		default:
			ts.phrases = append(ts.phrases, parts)
		}
	}
}

// Len is the number of distinct terms.
func (ts *TermSet) Len() int {
	return len(ts.words) + len(ts.phrases)
}

// Count returns the number of term occurrences in tokens. Phrases count
// once per occurrence of the full word sequence.
func (ts *TermSet) Count(tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if ts.words[tok] {
			n++
		}
	}
	for _, p := range ts.phrases {
		for i := 0; i+len(p) <= len(tokens); i++ {
			match := true
			for j := range p {
				if tokens[i+j] != p[j] {
					match = false
					break
				}
			}
			if match {
				n++
			}
		}
	}
	return n
}
