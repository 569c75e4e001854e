package identity

import (
	"strconv"
	"strings"
)

// Scheme identifies which identifier space a Token belongs to.
type Scheme int

const (
	// SchemeAuto tries every scheme in resolution order. Boundary datasets
	// use it because their identifiers are free text or partial codes.
	SchemeAuto Scheme = iota
	// SchemeISO3 is an ISO 3166-1 alpha-3 code.
	SchemeISO3
	// SchemeNumeric is a numeric country id from the reference table.
	SchemeNumeric
	// SchemeName is a display name or alias.
	SchemeName
)

func (s Scheme) String() string {
	switch s {
	case SchemeISO3:
		return "iso3"
	case SchemeNumeric:
		return "numeric"
	case SchemeName:
		return "name"
	default:
		return "auto"
	}
}

// ParseScheme maps "iso3", "numeric", "name" or "auto" to a Scheme.
// Unknown values fall back to SchemeAuto.
func ParseScheme(s string) Scheme {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iso3":
		return SchemeISO3
	case "numeric", "id":
		return SchemeNumeric
	case "name":
		return SchemeName
	default:
		return SchemeAuto
	}
}

// Token is a raw country identifier tagged with its scheme.
type Token struct {
	Scheme Scheme
	Value  string
}

// ISO3 returns an ISO alpha-3 token.
func ISO3(code string) Token { return Token{Scheme: SchemeISO3, Value: code} }

// Numeric returns a numeric-id token.
func Numeric(id int) Token { return Token{Scheme: SchemeNumeric, Value: strconv.Itoa(id)} }

// Name returns a name token.
func Name(name string) Token { return Token{Scheme: SchemeName, Value: name} }

// Auto returns a token resolved through every scheme.
func Auto(raw string) Token { return Token{Scheme: SchemeAuto, Value: raw} }

func (t Token) String() string {
	return t.Scheme.String() + ":" + t.Value
}

// numeric parses the token value as an integer id.
func (t Token) numeric() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(t.Value))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
