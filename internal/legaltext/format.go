// Package legaltext reflows the line breaks of imported legal articles.
//
// The pass is a fixed table of regular-expression substitutions (see Rules),
// not a parser. It joins lines broken mid-sentence, starts each structural
// marker ("I -", "§ 1º", "a)", "Parágrafo único") on its own line when the
// previous sentence has ended, and drops blank lines. Only whitespace is ever
// changed, so the sequence of non-whitespace characters is preserved.
//
// Known limitation: the rules are heuristic. Odd inputs (for example a
// lettered clause whose previous line ends without punctuation) are left as
// they are rather than guessed at.
package legaltext

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Format applies every rule in order and returns the reflowed text.
func Format(text string) string {
	for _, r := range rules {
		text = Apply(r, text)
	}
	return text
}

// NeedsFormatting reports whether text has a line broken inside a sentence,
// a structural marker that follows terminal punctuation on the same line, a
// marker separated from its own text, a blank line, or stray whitespace at a
// line edge.
func NeedsFormatting(text string) bool {
	for _, r := range rules {
		if r.detects(text) {
			return true
		}
	}
	return false
}

// Article is one entry of a batch.
type Article struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Result is the formatted form of an Article.
type Result struct {
	ID        string `json:"id"`
	Formatted string `json:"formatted"`
	Changed   bool   `json:"changed"`
}

// FormatBatch formats articles with at most limit goroutines (GOMAXPROCS when
// limit <= 0). Results keep the input order.
func FormatBatch(ctx context.Context, articles []Article, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	out := make([]Result, len(articles))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range articles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			formatted := Format(a.Text)
			out[i] = Result{ID: a.ID, Formatted: formatted, Changed: formatted != a.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
