// Package selection picks one item out of a candidate list.
//
// Choose is pure; Resolve adds the interactive fallback behind the Prompter interface.
package selection

import (
	"fmt"
	"regexp"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

var (
	ErrNoMatch   = dafterrors.New("no candidate matches")
	ErrAmbiguous = dafterrors.New("more than one candidate matches")
)

// Criteria narrows the candidates. An empty Criteria matches everything.
type Criteria struct {
	Exact   string
	Pattern *regexp.Regexp
}

func (c Criteria) matches(candidate string) bool {
	if c.Exact != "" && candidate != c.Exact {
		return false
	}
	if c.Pattern != nil && !c.Pattern.MatchString(candidate) {
		return false
	}
	return true
}

// Matches returns the indexes of every matching candidate.
func Matches(candidates []string, c Criteria) []int {
	var out []int
	for i, cand := range candidates {
		if c.matches(cand) {
			out = append(out, i)
		}
	}
	return out
}

// Choose returns the index of the single matching candidate.
func Choose(candidates []string, c Criteria) (int, error) {
	matched := Matches(candidates, c)
	switch len(matched) {
	case 0:
		return -1, ErrNoMatch
	case 1:
		return matched[0], nil
	default:
		return -1, ErrAmbiguous
	}
}

type Prompter interface {
	Select(label string, items []string) (int, error)
}

// Resolve is Choose with an interactive fallback when more than one candidate matches.
// A nil prompter, or one used outside a terminal, surfaces ErrAmbiguous.
func Resolve(candidates []string, c Criteria, label string, prompter Prompter, interactive bool) (int, error) {
	idx, err := Choose(candidates, c)
	if !dafterrors.Is(err, ErrAmbiguous) {
		return idx, err
	}
	if prompter == nil || !interactive {
		return -1, fmt.Errorf("%w: %d candidates, pass one explicitly", ErrAmbiguous, len(Matches(candidates, c)))
	}

	matched := Matches(candidates, c)
	items := make([]string, 0, len(matched))
	for _, i := range matched {
		items = append(items, candidates[i])
	}
	picked, err := prompter.Select(label, items)
	if err != nil {
		return -1, dafterrors.WrapAndTrace(err)
	}
	if picked < 0 || picked >= len(matched) {
		return -1, ErrNoMatch
	}
	return matched[picked], nil
}
