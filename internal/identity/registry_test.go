package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	require.NoError(t, r.Register(Country{ISO3: "DEU", NumericID: 276, Name: "Germany", Aliases: []string{"GER", "DE"}}))
	require.NoError(t, r.Register(Country{ISO3: "FRA", NumericID: 250, Name: "France", Aliases: []string{"FR"}}))
	require.NoError(t, r.Register(Country{ISO3: "CIV", NumericID: 384, Name: "Côte d'Ivoire", Aliases: []string{"Ivory Coast"}}))
	require.NoError(t, r.Register(Country{ISO3: "NER", NumericID: 562, Name: "Niger"}))
	require.NoError(t, r.Register(Country{ISO3: "NGA", NumericID: 566, Name: "Nigeria"}))
	require.NoError(t, r.Register(Country{ISO3: "USA", NumericID: 842, Name: "United States", Aliases: []string{"United States of America", "US"}}))
	require.NoError(t, SeedRegistry(r))
	return r
}

func TestResolve_AliasClosure(t *testing.T) {
	r := testRegistry(t)

	for _, c := range r.Countries() {
		got, ok := r.Resolve(Auto(c.ISO3))
		require.True(t, ok, c.ISO3)
		assert.Equal(t, c.ISO3, got)

		for _, a := range c.Aliases {
			got, ok := r.Resolve(Auto(a))
			require.True(t, ok, a)
			assert.Equal(t, c.ISO3, got, "alias %q", a)
		}
	}
}

func TestResolve_LookupOrder(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		name string
		tok  Token
		want string
		ok   bool
	}{
		{"iso3 exact", Auto("DEU"), "DEU", true},
		{"iso3 lowercase", Auto(" deu "), "DEU", true},
		{"numeric id", Auto("276"), "DEU", true},
		{"numeric token", Numeric(250), "FRA", true},
		{"alias code", Auto("GER"), "DEU", true},
		{"canonical name", Auto("germany"), "DEU", true},
		{"diacritics folded", Auto("Cote dIvoire"), "CIV", true},
		{"article dropped", Name("The Niger"), "NER", true},
		{"aggregate alias", Auto("European Union"), "EUU", true},
		{"iso3 scheme ignores names", ISO3("Germany"), "", false},
		{"iso3 scheme alternative code", ISO3("GER"), "DEU", true},
		{"iso3 scheme two letter code", ISO3("de"), "DEU", true},
		{"iso3 scheme unknown code", ISO3("XYZ"), "", false},
		{"name scheme alternative code", Name("GER"), "DEU", true},
		{"numeric scheme ignores codes", Token{Scheme: SchemeNumeric, Value: "DEU"}, "", false},
		{"unknown numeric", Numeric(9999), "", false},
		{"unknown name", Auto("Atlantis"), "", false},
		{"empty", Auto(""), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.tok)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_SubstringNotAppliedByDefault(t *testing.T) {
	r := testRegistry(t)

	_, ok := r.ResolveString("Federal Republic of Nigeria")
	assert.False(t, ok)
}

func TestResolve_CloseMatchOptIn(t *testing.T) {
	var hits []string
	r := testRegistry(t, WithCloseMatch(func(raw, iso3 string) {
		hits = append(hits, raw+"->"+iso3)
	}))

	got, ok := r.ResolveString("Federal Republic of Nigeria")
	require.True(t, ok)
	assert.Equal(t, "NGA", got)
	assert.Equal(t, []string{"Federal Republic of Nigeria->NGA"}, hits)
}

func TestSuggest_RanksOverlap(t *testing.T) {
	r := testRegistry(t)

	got := r.Suggest("Nigeria Republic", 0)
	require.NotEmpty(t, got)
	assert.Equal(t, "NGA", got[0].ISO3)

	// "NIGER" is contained in "NIGERIA REPUBLIC" too: the cross-match hazard
	// that keeps substring matching out of Resolve.
	var codes []string
	for _, s := range got {
		codes = append(codes, s.ISO3)
	}
	assert.Contains(t, codes, "NER")

	assert.Len(t, r.Suggest("Nigeria Republic", 1), 1)
	assert.Nil(t, r.Suggest("  ", 5))
}

func TestRegister_MergeIsIdempotent(t *testing.T) {
	r := New()
	c := Country{ISO3: "deu", NumericID: 276, Name: "Germany", Aliases: []string{"GER"}}
	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(Country{ISO3: "DEU", Aliases: []string{"DE", "GER"}}))

	got, ok := r.Lookup("DEU")
	require.True(t, ok)
	assert.Equal(t, "Germany", got.Name)
	assert.Equal(t, 276, got.NumericID)
	assert.ElementsMatch(t, []string{"GER", "DE"}, got.Aliases)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_AliasConflict(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "COG", Name: "Republic of the Congo", Aliases: []string{"Congo"}}))

	err := r.Register(Country{ISO3: "COD", Name: "Democratic Republic of the Congo", Aliases: []string{"Congo", "DRC"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAliasConflict)

	got, _ := r.ResolveString("Congo")
	assert.Equal(t, "COG", got, "first binding is kept")
	got, _ = r.ResolveString("DRC")
	assert.Equal(t, "COD", got, "non-conflicting aliases still register")
}

func TestRegister_NumericConflict(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "DEU", NumericID: 276}))
	err := r.Register(Country{ISO3: "FRA", NumericID: 276})
	assert.ErrorIs(t, err, ErrAliasConflict)

	got, _ := r.Resolve(Numeric(276))
	assert.Equal(t, "DEU", got)
}

func TestRegister_InvalidCode(t *testing.T) {
	r := New()
	assert.Error(t, r.Register(Country{ISO3: "DE"}))
	assert.Equal(t, 0, r.Len())
}

func TestExpandAggregate(t *testing.T) {
	r := testRegistry(t)

	members := r.ExpandAggregate("EUU")
	assert.Len(t, members, 27)
	assert.Contains(t, members, "DEU")
	assert.True(t, r.IsAggregate("euu"))

	assert.Equal(t, []string{"DEU"}, r.ExpandAggregate("DEU"))
	assert.Nil(t, r.ExpandAggregate("ZZZ"))
	assert.False(t, r.IsAggregate("DEU"))
}

func TestMergeAliases(t *testing.T) {
	r := testRegistry(t)

	err := r.MergeAliases(map[string]string{
		"BRD": "DEU",
		"TWN": "TWN",
		"ROC": "twn",
		"bad": "XX",
	})
	require.Error(t, err)

	got, ok := r.ResolveString("BRD")
	require.True(t, ok)
	assert.Equal(t, "DEU", got)

	got, ok = r.ResolveString("ROC")
	require.True(t, ok)
	assert.Equal(t, "TWN", got)

	c, ok := r.Lookup("TWN")
	require.True(t, ok)
	assert.Equal(t, "TWN", c.Name)

	require.NoError(t, r.Register(Country{ISO3: "TWN", Name: "Taiwan"}))
	c, _ = r.Lookup("TWN")
	assert.Equal(t, "Taiwan", c.Name, "a real registration replaces the stub name")
	got, _ = r.ResolveString("ROC")
	assert.Equal(t, "TWN", got)
}

func TestMergeAliases_TargetIsAlias(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "DEU", Name: "Germany", Aliases: []string{"GER"}}))

	require.NoError(t, r.MergeAliases(map[string]string{"Deutschland": "GER"}))

	for _, raw := range []string{"GER", "Deutschland"} {
		got, ok := r.ResolveString(raw)
		require.True(t, ok, raw)
		assert.Equal(t, "DEU", got, raw)
	}
	got, ok := r.Resolve(ISO3("GER"))
	require.True(t, ok)
	assert.Equal(t, "DEU", got)
	assert.Equal(t, 1, r.Len())
	c, _ := r.Lookup("DEU")
	assert.Contains(t, c.Aliases, "Deutschland")
}

func TestMergeAliases_StubFoldsIntoOwner(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "DEU", Name: "Germany"}))

	require.NoError(t, r.MergeAliases(map[string]string{"Deutschland": "GER"}))
	assert.Equal(t, 2, r.Len(), "GER is a stub until it is bound")

	require.NoError(t, r.MergeAliases(map[string]string{"GER": "DEU"}))
	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup("GER")
	assert.False(t, ok)
	for _, raw := range []string{"GER", "Deutschland"} {
		got, ok := r.ResolveString(raw)
		require.True(t, ok, raw)
		assert.Equal(t, "DEU", got, raw)
	}
}

func TestMergeAliases_ChainInOneTable(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "DEU", Name: "Germany"}))

	require.NoError(t, r.MergeAliases(map[string]string{"Deutschland": "GER", "GER": "DEU"}))
	assert.Equal(t, 1, r.Len())
	got, ok := r.ResolveString("Deutschland")
	require.True(t, ok)
	assert.Equal(t, "DEU", got)
}

func TestRegister_CodeBoundAsAlias(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Country{ISO3: "DEU", Name: "Germany", Aliases: []string{"GER"}}))

	err := r.Register(Country{ISO3: "GER", Name: "West Germany"})
	assert.ErrorIs(t, err, ErrAliasConflict)
	assert.Equal(t, 1, r.Len())
	got, _ := r.ResolveString("GER")
	assert.Equal(t, "DEU", got)

	// A real identity registered first keeps its code.
	r = New()
	require.NoError(t, r.Register(Country{ISO3: "GER", Name: "West Germany"}))
	err = r.Register(Country{ISO3: "DEU", Name: "Germany", Aliases: []string{"GER"}})
	assert.ErrorIs(t, err, ErrAliasConflict)
	got, _ = r.ResolveString("GER")
	assert.Equal(t, "GER", got)
}

func TestHolder_Swap(t *testing.T) {
	h := NewHolder(nil)
	assert.Equal(t, 0, h.Load().Len())

	next := testRegistry(t)
	prev := h.Swap(next)
	assert.Equal(t, 0, prev.Len())
	assert.Same(t, next, h.Load())
}

func TestParseScheme(t *testing.T) {
	assert.Equal(t, SchemeISO3, ParseScheme("ISO3"))
	assert.Equal(t, SchemeNumeric, ParseScheme("id"))
	assert.Equal(t, SchemeName, ParseScheme("name"))
	assert.Equal(t, SchemeAuto, ParseScheme("whatever"))
	assert.Equal(t, "numeric:276", Numeric(276).String())
}
