// Package identity maps every spelling, code and numeric id of a country to
// its canonical ISO 3166-1 alpha-3 code.
package identity

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAliasConflict is returned when an alias, name or numeric id is already
// bound to a different country.
var ErrAliasConflict = eris.New("identity: alias conflict")

// Country is the canonical identity of a country or aggregate.
type Country struct {
	ISO3        string   `json:"iso3"`
	NumericID   int      `json:"numeric_id,omitempty"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	TradeRegion string   `json:"trade_region,omitempty"`
	Aggregate   bool     `json:"aggregate,omitempty"`
	Members     []string `json:"members,omitempty"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithCloseMatch enables the case-insensitive substring fallback in Resolve.
// Close matches can cross-match countries whose names overlap, so every
// applied match is logged and reported to hook.
func WithCloseMatch(hook func(raw, iso3 string)) Option {
	return func(r *Registry) {
		r.closeMatch = true
		r.onCloseMatch = hook
	}
}

// Registry is the lookup graph of canonical codes, numeric ids and aliases.
// Build it with Register, then publish it through a Holder; a published
// registry must not be mutated.
type Registry struct {
	countries map[string]*Country
	numeric   map[int]string
	names     map[string]string
	// stubs are identities created only to anchor alias targets; a later
	// binding of the stub's code as an alias folds it into the owner.
	stubs map[string]bool

	closeMatch   bool
	onCloseMatch func(raw, iso3 string)
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		countries: make(map[string]*Country),
		numeric:   make(map[int]string),
		names:     make(map[string]string),
		stubs:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts c or merges it into the existing identity with the same
// ISO3. Merging unions aliases and members and fills empty fields, so
// registering the same identity twice is a no-op. Bindings that conflict
// with another country are skipped and reported as ErrAliasConflict; the
// rest of c is still registered. A code already bound as an alias of another
// country cannot become an identity of its own.
func (r *Registry) Register(c Country) error {
	iso3 := NormalizeCode(c.ISO3)
	if !isISO3(iso3) {
		return eris.Errorf("identity: invalid iso3 code %q", c.ISO3)
	}
	if _, ok := r.countries[iso3]; !ok {
		if owner, bound := r.names[iso3]; bound {
			return eris.Wrapf(ErrAliasConflict, "code %s is an alias of %s", iso3, owner)
		}
	}
	if r.stubs[iso3] {
		delete(r.stubs, iso3)
		if c.Name != "" {
			r.countries[iso3].Name = ""
		}
	}
	return r.merge(iso3, c)
}

func (r *Registry) merge(iso3 string, c Country) error {
	cur, ok := r.countries[iso3]
	if !ok {
		cur = &Country{ISO3: iso3}
		r.countries[iso3] = cur
	}
	if cur.Name == "" {
		cur.Name = strings.TrimSpace(c.Name)
	}
	if cur.TradeRegion == "" {
		cur.TradeRegion = c.TradeRegion
	}
	cur.Aggregate = cur.Aggregate || c.Aggregate || len(c.Members) > 0
	for _, m := range c.Members {
		m = NormalizeCode(m)
		if isISO3(m) && m != iso3 && !slices.Contains(cur.Members, m) {
			cur.Members = append(cur.Members, m)
		}
	}

	var errs []error

	if c.NumericID > 0 {
		if owner, taken := r.numeric[c.NumericID]; taken && owner != iso3 {
			errs = append(errs, eris.Wrapf(ErrAliasConflict, "numeric id %d is bound to %s, not %s", c.NumericID, owner, iso3))
		} else {
			r.numeric[c.NumericID] = iso3
			if cur.NumericID == 0 {
				cur.NumericID = c.NumericID
			}
		}
	}

	if cur.Name != "" {
		if err := r.bindName(iso3, cur.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Name != "" && c.Name != cur.Name {
		if err := r.bindName(iso3, c.Name); err == nil {
			cur.addAlias(c.Name)
		} else {
			errs = append(errs, err)
		}
	}
	for _, alias := range c.Aliases {
		if err := r.bindName(iso3, alias); err != nil {
			errs = append(errs, err)
			continue
		}
		cur.addAlias(alias)
	}

	return errors.Join(errs...)
}

// bindName maps the normalized form of alias to iso3.
func (r *Registry) bindName(iso3, alias string) error {
	key := NormalizeName(alias)
	if key == "" || key == iso3 {
		return nil
	}
	if owner, ok := r.countries[key]; ok && owner.ISO3 != iso3 && isISO3(key) {
		if !r.stubs[key] {
			return eris.Wrapf(ErrAliasConflict, "alias %q is the code of %s, not %s", alias, owner.ISO3, iso3)
		}
		r.absorb(key, iso3)
	}
	if owner, ok := r.names[key]; ok && owner != iso3 {
		return eris.Wrapf(ErrAliasConflict, "alias %q is bound to %s, not %s", alias, owner, iso3)
	}
	r.names[key] = iso3
	return nil
}

// absorb folds the stub identity into iso3: every binding of the stub moves
// to iso3 and the stub is removed.
func (r *Registry) absorb(stub, iso3 string) {
	into := r.countries[iso3]
	for key, owner := range r.names {
		if owner == stub {
			r.names[key] = iso3
		}
	}
	for _, a := range r.countries[stub].Aliases {
		into.addAlias(a)
	}
	delete(r.countries, stub)
	delete(r.stubs, stub)
	zap.L().Debug("identity: folded alias stub", zap.String("stub", stub), zap.String("iso3", iso3))
}

func (c *Country) addAlias(alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" || alias == c.Name || alias == c.ISO3 {
		return
	}
	if !slices.Contains(c.Aliases, alias) {
		c.Aliases = append(c.Aliases, alias)
	}
}

// Resolve maps a token to its canonical ISO3 code. For SchemeAuto the lookup
// order is: exact ISO3, exact numeric id, exact alias or name, and, only when
// the registry was built WithCloseMatch, a substring close match. SchemeISO3
// tokens that are not a registered code fall back to the alias table when
// they are shaped like a code, so alternative codes such as GER resolve.
// Unresolved tokens return false.
func (r *Registry) Resolve(tok Token) (string, bool) {
	switch tok.Scheme {
	case SchemeISO3:
		return r.byCode(tok.Value)
	case SchemeNumeric:
		if n, ok := tok.numeric(); ok {
			return r.byNumeric(n)
		}
		return "", false
	case SchemeName:
		if iso3, ok := r.byName(tok.Value); ok {
			return iso3, true
		}
		return r.byCloseMatch(tok.Value)
	default:
		if iso3, ok := r.byISO3(tok.Value); ok {
			return iso3, true
		}
		if n, ok := tok.numeric(); ok {
			if iso3, ok := r.byNumeric(n); ok {
				return iso3, true
			}
		}
		if iso3, ok := r.byName(tok.Value); ok {
			return iso3, true
		}
		return r.byCloseMatch(tok.Value)
	}
}

// ResolveString resolves a free-text identifier through every scheme.
func (r *Registry) ResolveString(raw string) (string, bool) {
	return r.Resolve(Auto(raw))
}

func (r *Registry) byISO3(code string) (string, bool) {
	code = NormalizeCode(code)
	if _, ok := r.countries[code]; ok {
		return code, true
	}
	return "", false
}

// byCode resolves a code column value: a registered ISO3, or an alternative
// code bound as an alias.
func (r *Registry) byCode(code string) (string, bool) {
	if iso3, ok := r.byISO3(code); ok {
		return iso3, true
	}
	if !isCode(NormalizeCode(code)) {
		return "", false
	}
	return r.byName(code)
}

func (r *Registry) byNumeric(n int) (string, bool) {
	iso3, ok := r.numeric[n]
	return iso3, ok
}

func (r *Registry) byName(name string) (string, bool) {
	iso3, ok := r.names[NormalizeName(name)]
	return iso3, ok
}

func (r *Registry) byCloseMatch(raw string) (string, bool) {
	if !r.closeMatch {
		return "", false
	}
	suggestions := r.Suggest(raw, 1)
	if len(suggestions) == 0 {
		return "", false
	}
	iso3 := suggestions[0].ISO3
	zap.L().Warn("identity: applied close match",
		zap.String("token", raw),
		zap.String("iso3", iso3),
		zap.String("matched", suggestions[0].Matched),
	)
	if r.onCloseMatch != nil {
		r.onCloseMatch(raw, iso3)
	}
	return iso3, true
}

// Suggestion is a close-match candidate for an unresolved token.
type Suggestion struct {
	ISO3    string  `json:"iso3"`
	Name    string  `json:"name"`
	Matched string  `json:"matched"`
	Score   float64 `json:"score"`
}

// Suggest returns up to limit countries whose normalized name or alias
// contains raw or is contained in it, best overlap first. It is a maintainer
// aid for extending the alias table.
func (r *Registry) Suggest(raw string, limit int) []Suggestion {
	q := NormalizeName(raw)
	if q == "" {
		return nil
	}

	best := make(map[string]Suggestion)
	for key, iso3 := range r.names {
		var score float64
		switch {
		case strings.Contains(key, q):
			score = float64(len(q)) / float64(len(key))
		case strings.Contains(q, key):
			score = float64(len(key)) / float64(len(q))
		default:
			continue
		}
		cur, ok := best[iso3]
		if ok && (cur.Score > score || (cur.Score == score && cur.Matched <= key)) {
			continue
		}
		best[iso3] = Suggestion{ISO3: iso3, Name: r.countries[iso3].Name, Matched: key, Score: score}
	}

	out := make([]Suggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ISO3 < out[j].ISO3
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ExpandAggregate returns the members of an aggregate, the code itself for
// an ordinary country, and nil for an unknown code.
func (r *Registry) ExpandAggregate(iso3 string) []string {
	c, ok := r.countries[NormalizeCode(iso3)]
	if !ok {
		return nil
	}
	if c.Aggregate && len(c.Members) > 0 {
		return slices.Clone(c.Members)
	}
	return []string{c.ISO3}
}

// IsAggregate reports whether iso3 is a registered aggregate.
func (r *Registry) IsAggregate(iso3 string) bool {
	c, ok := r.countries[NormalizeCode(iso3)]
	return ok && c.Aggregate && len(c.Members) > 0
}

// Lookup returns a copy of the identity registered under iso3.
func (r *Registry) Lookup(iso3 string) (Country, bool) {
	c, ok := r.countries[NormalizeCode(iso3)]
	if !ok {
		return Country{}, false
	}
	cp := *c
	cp.Aliases = slices.Clone(c.Aliases)
	cp.Members = slices.Clone(c.Members)
	return cp, true
}

// Countries returns every registered identity sorted by ISO3.
func (r *Registry) Countries() []Country {
	out := make([]Country, 0, len(r.countries))
	for code := range r.countries {
		c, _ := r.Lookup(code)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISO3 < out[j].ISO3 })
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int { return len(r.countries) }

// MergeAliases registers an alias service response (alternate token →
// ISO3). A target that is itself an alias follows to its owner. Other
// targets without an identity get a stub named by their code. Conflicting
// entries are skipped and returned joined.
func (r *Registry) MergeAliases(aliases map[string]string) error {
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, alt := range keys {
		target := NormalizeCode(aliases[alt])
		if !isISO3(target) {
			errs = append(errs, eris.Errorf("identity: alias %q targets invalid code %q", alt, aliases[alt]))
			continue
		}
		if _, ok := r.countries[target]; !ok {
			if owner, bound := r.names[target]; bound {
				target = owner
			} else {
				r.countries[target] = &Country{ISO3: target, Name: target}
				r.stubs[target] = true
			}
		}
		if err := r.merge(target, Country{ISO3: target, Aliases: []string{alt}}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Holder publishes the current Registry snapshot. Readers always see a
// fully built registry; a rebuild swaps the pointer.
type Holder struct {
	p atomic.Pointer[Registry]
}

// NewHolder creates a Holder publishing r (an empty registry when nil).
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	if r == nil {
		r = New()
	}
	h.p.Store(r)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Registry { return h.p.Load() }

// Swap replaces the snapshot and returns the previous one.
func (h *Holder) Swap(r *Registry) *Registry { return h.p.Swap(r) }
