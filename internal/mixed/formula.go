package mixed

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormula is returned for formulas outside the supported lme4 subset.
var ErrFormula = errors.New("mixed: invalid formula")

// RandomTerm is one `(terms | grouping)` block. Groups lists the grouping
// factors outer to inner; more than one factor means nested grouping (a/b).
type RandomTerm struct {
	Intercept bool
	Slopes    []string
	Groups    []string
}

func (r RandomTerm) String() string {
	var lhs []string
	switch {
	case r.Intercept:
		lhs = append(lhs, "1")
	case len(r.Slopes) > 0:
		lhs = append(lhs, "0")
	}
	lhs = append(lhs, r.Slopes...)
	return fmt.Sprintf("(%s | %s)", strings.Join(lhs, " + "), strings.Join(r.Groups, "/"))
}

// Formula is a parsed model formula in lme4 notation, e.g.
// `Score ~ Time + (1 | School/ID)`.
type Formula struct {
	Response  string
	Intercept bool
	Fixed     []string
	Random    []RandomTerm
}

// ParseFormula parses the lme4 subset used by the analysis: additive fixed terms
// (interactions written a:b or a*b), intercept suppression with 0 or -1, and
// random blocks with intercepts, slopes and nested grouping.
func ParseFormula(s string) (Formula, error) {
	lhs, rhs, ok := strings.Cut(s, "~")
	if !ok {
		return Formula{}, fmt.Errorf("%w: %q has no '~'", ErrFormula, s)
	}
	f := Formula{Response: strings.TrimSpace(lhs), Intercept: true}
	if !isName(f.Response) {
		return Formula{}, fmt.Errorf("%w: bad response %q", ErrFormula, f.Response)
	}
	terms, err := splitTerms(rhs)
	if err != nil {
		return Formula{}, err
	}
	if len(terms) == 0 {
		return Formula{}, fmt.Errorf("%w: %q has no terms", ErrFormula, s)
	}
	for _, t := range terms {
		switch {
		case t.text == "1" && !t.negative:
			f.Intercept = true
		case t.text == "0" && !t.negative, t.text == "1" && t.negative:
			f.Intercept = false
		case t.negative:
			return Formula{}, fmt.Errorf("%w: cannot remove term %q", ErrFormula, t.text)
		case strings.HasPrefix(t.text, "("):
			rt, err := parseRandom(t.text)
			if err != nil {
				return Formula{}, err
			}
			f.Random = append(f.Random, rt)
		default:
			if err := checkFixed(t.text); err != nil {
				return Formula{}, err
			}
			f.Fixed = append(f.Fixed, t.text)
		}
	}
	return f, nil
}

// MustParseFormula is ParseFormula for literals known to be valid.
func MustParseFormula(s string) Formula {
	f, err := ParseFormula(s)
	if err != nil {
		panic(err)
	}
	return f
}

// String renders the canonical lme4 form.
func (f Formula) String() string {
	var terms []string
	if !f.Intercept {
		terms = append(terms, "0")
	} else if len(f.Fixed) == 0 {
		terms = append(terms, "1")
	}
	terms = append(terms, f.Fixed...)
	for _, r := range f.Random {
		terms = append(terms, r.String())
	}
	return f.Response + " ~ " + strings.Join(terms, " + ")
}

// Columns lists every data column the formula references, response first, without duplicates.
func (f Formula) Columns() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(names ...string) {
		for _, n := range names {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}
	add(f.Response)
	for _, t := range f.Fixed {
		add(termColumns(t)...)
	}
	for _, r := range f.Random {
		for _, s := range r.Slopes {
			add(termColumns(s)...)
		}
		for _, g := range r.Groups {
			add(termColumns(g)...)
		}
	}
	return out
}

// HasRandom reports whether the formula has at least one random block.
func (f Formula) HasRandom() bool { return len(f.Random) > 0 }

type term struct {
	text     string
	negative bool
}

// splitTerms splits on top-level '+' and '-'.
func splitTerms(rhs string) ([]term, error) {
	var out []term
	depth := 0
	start := 0
	negative := false
	flush := func(end int, nextNegative bool) error {
		text := strings.TrimSpace(rhs[start:end])
		if text == "" {
			if end == len(rhs) || start > 0 {
				return fmt.Errorf("%w: empty term in %q", ErrFormula, rhs)
			}
		} else {
			out = append(out, term{text: text, negative: negative})
		}
		negative = nextNegative
		start = end + 1
		return nil
	}
	for i, c := range rhs {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced ')' in %q", ErrFormula, rhs)
			}
		case '+', '-':
			if depth == 0 {
				if err := flush(i, c == '-'); err != nil {
					return nil, err
				}
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced '(' in %q", ErrFormula, rhs)
	}
	if err := flush(len(rhs), false); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRandom(text string) (RandomTerm, error) {
	if !strings.HasSuffix(text, ")") {
		return RandomTerm{}, fmt.Errorf("%w: malformed random term %q", ErrFormula, text)
	}
	inner := strings.TrimSpace(text[1 : len(text)-1])
	lhs, rhs, ok := strings.Cut(inner, "|")
	if !ok || strings.Contains(rhs, "|") {
		return RandomTerm{}, fmt.Errorf("%w: random term %q needs exactly one '|'", ErrFormula, text)
	}
	rt := RandomTerm{Intercept: true}
	parts, err := splitTerms(lhs)
	if err != nil {
		return RandomTerm{}, err
	}
	for _, p := range parts {
		switch {
		case p.text == "1" && !p.negative:
			rt.Intercept = true
		case p.text == "0" && !p.negative, p.text == "1" && p.negative:
			rt.Intercept = false
		case p.negative:
			return RandomTerm{}, fmt.Errorf("%w: cannot remove term %q", ErrFormula, p.text)
		default:
			if err := checkFixed(p.text); err != nil {
				return RandomTerm{}, err
			}
			rt.Slopes = append(rt.Slopes, p.text)
		}
	}
	if !rt.Intercept && len(rt.Slopes) == 0 {
		return RandomTerm{}, fmt.Errorf("%w: random term %q has no effects", ErrFormula, text)
	}
	for _, g := range strings.Split(rhs, "/") {
		g = strings.TrimSpace(g)
		if err := checkFixed(g); err != nil {
			return RandomTerm{}, err
		}
		rt.Groups = append(rt.Groups, g)
	}
	return rt, nil
}

func checkFixed(t string) error {
	for _, n := range termColumns(t) {
		if !isName(n) {
			return fmt.Errorf("%w: bad term %q", ErrFormula, t)
		}
	}
	return nil
}

func termColumns(t string) []string {
	fields := strings.FieldsFunc(t, func(r rune) bool { return r == ':' || r == '*' })
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) == 0 {
		return []string{t}
	}
	return fields
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
