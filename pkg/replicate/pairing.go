package replicate

import (
	"sort"
	"strings"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// DefaultSuffix marks technical replicate columns, e.g. F1 / F1repl
const DefaultSuffix = "repl"

// Pair derives original/replicate column pairs from the naming convention.
// Every column ending in suffix and its base column are natural-sorted and
// paired by adjacent index. Any break in the convention is a
// *models.MalformedPairingError.
func Pair(columns []string, suffix string) ([]models.ReplicatePair, error) {
	if suffix == "" {
		return nil, &models.MalformedPairingError{Reason: "empty replicate suffix"}
	}

	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}

	selected := make(map[string]struct{})
	var orphans []string
	for _, c := range columns {
		if len(c) <= len(suffix) || !strings.HasSuffix(c, suffix) {
			continue
		}
		base := strings.TrimSuffix(c, suffix)
		if _, ok := present[base]; !ok {
			orphans = append(orphans, c)
			continue
		}
		selected[c] = struct{}{}
		selected[base] = struct{}{}
	}
	if len(orphans) > 0 {
		return nil, &models.MalformedPairingError{Columns: orphans, Reason: "replicate without original column"}
	}

	names := make([]string, 0, len(selected))
	for c := range selected {
		names = append(names, c)
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	if len(names)%2 != 0 {
		return nil, &models.MalformedPairingError{Columns: names, Reason: "odd number of paired columns"}
	}

	pairs := make([]models.ReplicatePair, 0, len(names)/2)
	for i := 0; i < len(names); i += 2 {
		original, replicate := names[i], names[i+1]
		if replicate != original+suffix {
			return nil, &models.MalformedPairingError{
				Columns: []string{original, replicate},
				Reason:  "adjacent columns are not a sample and its replicate",
			}
		}
		pairs = append(pairs, models.ReplicatePair{Original: original, Replicate: replicate})
	}
	return pairs, nil
}

// naturalLess orders strings with embedded numbers by value, so F2 < F10
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := chunk(a), chunk(b)
		a, b = a[len(ca):], b[len(cb):]
		if ca == cb {
			continue
		}
		if isDigit(ca[0]) && isDigit(cb[0]) {
			na, nb := strings.TrimLeft(ca, "0"), strings.TrimLeft(cb, "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// same value, fewer leading zeros first
			return len(ca) < len(cb)
		}
		return ca < cb
	}
	return len(a) < len(b)
}

// chunk returns the leading run of digits or non-digits
func chunk(s string) string {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
