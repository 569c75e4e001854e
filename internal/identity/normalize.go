package identity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameArticles lists leading articles that some sources prepend
// ("The Gambia", "The Bahamas").
var nameArticles = []string{"THE "}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

var punctReplacer = strings.NewReplacer(
	",", "",
	".", "",
	"'", "",
	"’", "",
	"\"", "",
	"(", " ",
	")", " ",
	"&", " AND ",
	"-", " ",
	"/", " ",
)

// NormalizeName standardizes a country name or alias for exact matching by:
//  1. Trimming whitespace
//  2. Folding diacritics (Côte → COTE, Curaçao → CURACAO)
//  3. Converting to uppercase
//  4. Stripping punctuation and replacing "&" with "AND"
//  5. Dropping a leading "THE"
//  6. Collapsing multiple spaces into single spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = foldDiacritics(name)
	name = strings.ToUpper(name)
	name = punctReplacer.Replace(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	for _, article := range nameArticles {
		if strings.HasPrefix(name, article) && len(name) > len(article) {
			name = strings.TrimPrefix(name, article)
			break
		}
	}

	return name
}

// NormalizeCode upper-cases and trims an ISO code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// isISO3 reports whether s looks like an ISO 3166 alpha-3 code.
func isISO3(s string) bool {
	return len(s) == 3 && isCode(s)
}

// isCode reports whether s looks like a two or three letter country code.
func isCode(s string) bool {
	if len(s) < 2 || len(s) > 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
