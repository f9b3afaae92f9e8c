package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// PageRange is an inclusive, 1-based page interval.
type PageRange struct {
	From, To int
}

func (r PageRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// ParseRanges parses expressions like "1-3,5,8-" against a document of
// total pages. An open upper bound runs to the last page.
func ParseRanges(expr string, total int) ([]PageRange, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty page range")
	}

	var out []PageRange
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty segment in %q", expr)
		}

		var r PageRange
		from, to, isSpan := strings.Cut(part, "-")
		n, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", from)
		}
		r.From, r.To = n, n

		if isSpan {
			to = strings.TrimSpace(to)
			if to == "" {
				r.To = total
			} else if r.To, err = strconv.Atoi(to); err != nil {
				return nil, fmt.Errorf("invalid page %q", to)
			}
		}

		if r.From < 1 || r.To > total || r.From > r.To {
			return nil, fmt.Errorf("range %s is outside 1-%d", part, total)
		}
		out = append(out, r)
	}
	return out, nil
}

// EveryPage returns one single-page range per page.
func EveryPage(total int) []PageRange {
	out := make([]PageRange, total)
	for i := range out {
		out[i] = PageRange{From: i + 1, To: i + 1}
	}
	return out
}

// selectPages converts a user expression into pdfcpu page selectors. An empty
// expression selects every page.
func selectPages(name, expr string, total int) ([]string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	ranges, err := ParseRanges(expr, total)
	if err != nil {
		return nil, fail(CodeInvalidPageRange, name, err)
	}
	out := make([]string, len(ranges))
	for i, r := range ranges {
		out[i] = r.String()
	}
	return out, nil
}

// pageNumbers expands ranges into a sorted list of distinct pages.
func pageNumbers(ranges []PageRange) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range ranges {
		for p := r.From; p <= r.To; p++ {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
