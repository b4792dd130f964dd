// fuzzy_chooser.go - Token-set fuzzy matching against short candidate lists

package processor

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// DefaultFuzzyScoreCutoff is the minimum address score.
const DefaultFuzzyScoreCutoff = 40

// TokenSetRatio scores a and b in [0,100] comparing their word sets, so word
// order and repeated words do not matter. When every word of one side appears
// in the other the score is 100.
func TokenSetRatio(a, b string) int {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var sect, diffAB, diffBA []string
	for t := range tokensA {
		if _, ok := tokensB[t]; ok {
			sect = append(sect, t)
		} else {
			diffAB = append(diffAB, t)
		}
	}
	for t := range tokensB {
		if _, ok := tokensA[t]; !ok {
			diffBA = append(diffBA, t)
		}
	}
	if len(sect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}
	sort.Strings(sect)
	sort.Strings(diffAB)
	sort.Strings(diffBA)

	sorted := strings.Join(sect, " ")
	combinedAB := strings.TrimSpace(sorted + " " + strings.Join(diffAB, " "))
	combinedBA := strings.TrimSpace(sorted + " " + strings.Join(diffBA, " "))

	best := ratio(sorted, combinedAB)
	best = max(best, ratio(sorted, combinedBA))
	best = max(best, ratio(combinedAB, combinedBA))
	return best
}

// ratio is the indel similarity of two strings, 2*LCS/(len(a)+len(b)),
// scaled to [0,100] and rounded half to even.
func ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	lcs := longestCommonSubsequence(ra, rb)
	return int(math.RoundToEven(100 * float64(2*lcs) / float64(total)))
}

// longestCommonSubsequence keeps two rows of the LCS table.
func longestCommonSubsequence(a, b []rune) int {
	if len(b) > len(a) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// tokenSet lowercases s, treats every non-alphanumeric rune as a separator
// and returns the distinct words.
func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// BestMatch returns the highest scoring choice whose score is at least
// cutoff. The first choice wins ties.
func BestMatch(text string, choices []string, cutoff int) (string, int, bool) {
	choice, score, ok, _ := bestMatch(context.Background(), text, choices, cutoff)
	return choice, score, ok
}

func bestMatch(ctx context.Context, text string, choices []string, cutoff int) (string, int, bool, error) {
	bestIdx, bestScore := -1, -1
	for i, c := range choices {
		if err := ctx.Err(); err != nil {
			return "", 0, false, err
		}
		if s := TokenSetRatio(text, c); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	if bestIdx < 0 || bestScore < cutoff {
		return "", 0, false, nil
	}
	return choices[bestIdx], bestScore, true, nil
}

// FuzzyMatches is what the Chooser found in a document.
type FuzzyMatches struct {
	Address      string
	AddressScore int
	Owner        string
	OwnerScore   int
}

// Chooser matches a document's text against the known addresses and owners.
type Chooser struct {
	AddressCutoff int
}

// NewChooser creates a Chooser with the given address cutoff. Owners are
// matched with no cutoff.
func NewChooser(addressCutoff int) *Chooser {
	return &Chooser{AddressCutoff: addressCutoff}
}

// Choose runs the address and owner matches on their own goroutines. An
// empty field means nothing cleared the cutoff or there were no choices.
func (c *Chooser) Choose(ctx context.Context, text string, addresses, owners []string) (FuzzyMatches, error) {
	var out FuzzyMatches
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr, score, ok, err := bestMatch(gctx, text, addresses, c.AddressCutoff)
		if ok {
			out.Address, out.AddressScore = addr, score
		}
		return err
	})
	g.Go(func() error {
		owner, score, ok, err := bestMatch(gctx, text, owners, 0)
		if ok {
			out.Owner, out.OwnerScore = owner, score
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return FuzzyMatches{}, err
	}
	return out, nil
}
