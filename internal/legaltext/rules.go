package legaltext

import (
	"regexp"
	"strings"
)

// Stage groups rules; stages run in declaration order.
type Stage int

const (
	// StageMerge joins lines that were broken mid-sentence.
	StageMerge Stage = iota
	// StageSplit puts each structural marker on its own line.
	StageSplit
	// StageTidy normalizes the remaining line breaks.
	StageTidy
)

func (s Stage) String() string {
	switch s {
	case StageMerge:
		return "merge"
	case StageSplit:
		return "split"
	case StageTidy:
		return "tidy"
	default:
		return "unknown"
	}
}

// Rule is one substitution in the formatting pass. Replacements only ever
// add, remove or swap whitespace; captured text is written back unchanged.
type Rule struct {
	Name  string
	Stage Stage
	// Pattern and Replace follow regexp.Expand ("${1}" references).
	Pattern *regexp.Regexp
	Replace string
	// Detect matches what the rule would rewrite; NeedsFormatting reports
	// true when any rule's Detect matches.
	Detect *regexp.Regexp
	// Keep leaves a match untouched. m holds submatch indexes into s.
	Keep func(s string, m []int) bool
	// Repeat re-applies the rule until the text stops changing, for
	// patterns whose matches would otherwise overlap ("a\nb\nc").
	Repeat bool
	// Rationale documents what the rule is for.
	Rationale string
}

// Structural markers.
const (
	romanItem    = `\b[IVXLCDM]+\b[ \t]*[-\x{2013}\x{2014}]`
	sectionSign  = `§[ \t]*\d+[º°]?\.?`
	letterClause = `\b[a-z]\)`
	soleParagr   = `(?i:parágrafo[ \t]+único)[.:]?`
	terminal     = `[.;:!?]`
)

// connectives are the short words the import source most often leaves
// dangling at the end of a line.
var connectives = []string{
	"a", "à", "às", "ao", "aos", "o", "os", "as",
	"de", "da", "do", "das", "dos",
	"em", "no", "na", "nos", "nas",
	"e", "ou", "nem", "que", "se",
	"com", "por", "pelo", "pela", "pelos", "pelas", "para",
	"sob", "sobre", "entre", "até", "quando", "como",
	"é", "são", "será", "serão", "não",
}

// nextIsParen keeps a lowercase-to-lowercase merge from swallowing the
// start of a lettered sub-clause ("...\nb) texto").
func nextIsParen(s string, m []int) bool {
	return strings.HasPrefix(s[m[1]:], ")")
}

var rules = []Rule{
	{
		Name:      "merge-lowercase",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(\p{Ll}|,)[ \t]*\n+[ \t]*(\p{Ll})`),
		Replace:   "${1} ${2}",
		Detect:    regexp.MustCompile(`(\p{Ll}|,)[ \t]*\n+[ \t]*(\p{Ll})`),
		Keep:      nextIsParen,
		Repeat:    true,
		Rationale: "a break between two lowercase letters, or after a comma, splits a sentence",
	},
	{
		Name:      "merge-connective",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(^|[\s(])(` + strings.Join(connectives, "|") + `)[ \t]*\n+[ \t]*`),
		Replace:   "${1}${2} ",
		Detect:    regexp.MustCompile(`(^|[\s(])(` + strings.Join(connectives, "|") + `)[ \t]*\n`),
		Repeat:    true,
		Rationale: "a sentence never ends on a preposition, conjunction or linking verb",
	},
	{
		Name:      "merge-roman-item",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(` + romanItem + `)[ \t]*\n+[ \t]*`),
		Replace:   "${1} ",
		Detect:    regexp.MustCompile(romanItem + `[ \t]*\n`),
		Rationale: "an item marker (\"II -\") belongs on the same line as its text",
	},
	{
		Name:      "merge-section",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(` + sectionSign + `)[ \t]*\n+[ \t]*`),
		Replace:   "${1} ",
		Detect:    regexp.MustCompile(sectionSign + `[ \t]*\n`),
		Rationale: "a paragraph marker (\"§ 1º\") belongs on the same line as its text",
	},
	{
		Name:      "merge-letter-clause",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(` + letterClause + `)[ \t]*\n+[ \t]*`),
		Replace:   "${1} ",
		Detect:    regexp.MustCompile(letterClause + `[ \t]*\n`),
		Rationale: "a sub-clause marker (\"b)\") belongs on the same line as its text",
	},
	{
		Name:      "merge-sole-paragraph",
		Stage:     StageMerge,
		Pattern:   regexp.MustCompile(`(` + soleParagr + `)[ \t]*\n+[ \t]*`),
		Replace:   "${1} ",
		Detect:    regexp.MustCompile(soleParagr + `[ \t]*\n`),
		Rationale: "\"Parágrafo único\" belongs on the same line as its text",
	},
	{
		Name:      "split-roman-item",
		Stage:     StageSplit,
		Pattern:   regexp.MustCompile(`(` + terminal + `)[ \t\n]*(` + romanItem + `[ \t])`),
		Replace:   "${1}\n${2}",
		Detect:    regexp.MustCompile(terminal + `[ \t]*` + romanItem + `[ \t]`),
		Rationale: "each item starts a new line once the previous sentence has ended",
	},
	{
		Name:      "split-section",
		Stage:     StageSplit,
		Pattern:   regexp.MustCompile(`(` + terminal + `)[ \t\n]*(§[ \t]*\d)`),
		Replace:   "${1}\n${2}",
		Detect:    regexp.MustCompile(terminal + `[ \t]*§[ \t]*\d`),
		Rationale: "each paragraph starts a new line once the previous sentence has ended",
	},
	{
		Name:      "split-letter-clause",
		Stage:     StageSplit,
		Pattern:   regexp.MustCompile(`(` + terminal + `)[ \t\n]*(` + letterClause + `[ \t])`),
		Replace:   "${1}\n${2}",
		Detect:    regexp.MustCompile(terminal + `[ \t]*` + letterClause + `[ \t]`),
		Rationale: "each sub-clause starts a new line once the previous sentence has ended",
	},
	{
		Name:      "split-sole-paragraph",
		Stage:     StageSplit,
		Pattern:   regexp.MustCompile(`(` + terminal + `)[ \t\n]*(` + soleParagr + `)`),
		Replace:   "${1}\n${2}",
		Detect:    regexp.MustCompile(terminal + `[ \t]*` + soleParagr),
		Rationale: "\"Parágrafo único\" starts a new line once the previous sentence has ended",
	},
	{
		Name:      "tidy-line-edges",
		Stage:     StageTidy,
		Pattern:   regexp.MustCompile(`[ \t]*\n[ \t]*`),
		Replace:   "\n",
		Detect:    regexp.MustCompile(`[ \t]+\n|\n[ \t]+`),
		Rationale: "spaces around a line break carry no meaning",
	},
	{
		Name:      "tidy-blank-lines",
		Stage:     StageTidy,
		Pattern:   regexp.MustCompile(`\n{2,}`),
		Replace:   "\n",
		Detect:    regexp.MustCompile(`\n[ \t]*\n`),
		Rationale: "articles use exactly one break between blocks",
	},
	{
		Name:      "tidy-trim",
		Stage:     StageTidy,
		Pattern:   regexp.MustCompile(`\A\s+|\s+\z`),
		Replace:   "",
		Detect:    regexp.MustCompile(`\A\s|\s\z`),
		Rationale: "leading breaks and trailing whitespace are import noise",
	},
}

// Rules returns the formatting rules in application order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Lookup returns the rule with the given name.
func Lookup(name string) (Rule, bool) {
	for _, r := range rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

const maxRepeat = 16

// Apply runs a single rule over text.
func Apply(r Rule, text string) string {
	out := r.applyOnce(text)
	if !r.Repeat {
		return out
	}
	for i := 1; i < maxRepeat && out != text; i++ {
		text = out
		out = r.applyOnce(text)
	}
	return out
}

func (r Rule) applyOnce(s string) string {
	matches := r.Pattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		if r.Keep != nil && r.Keep(s, m) {
			b.WriteString(s[m[0]:m[1]])
		} else {
			b.Write(r.Pattern.ExpandString(nil, r.Replace, s, m))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// detects reports whether Detect has a match that Keep would not protect.
func (r Rule) detects(s string) bool {
	if r.Detect == nil {
		return false
	}
	for _, m := range r.Detect.FindAllStringSubmatchIndex(s, -1) {
		if r.Keep == nil || !r.Keep(s, m) {
			return true
		}
	}
	return false
}
