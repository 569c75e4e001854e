package identity

// EUU is the pseudo-code the tariff tables use for the European Union.
const EUU = "EUU"

// euMembers lists the EU-27 member states.
var euMembers = []string{
	"AUT", "BEL", "BGR", "HRV", "CYP", "CZE", "DNK", "EST", "FIN",
	"FRA", "DEU", "GRC", "HUN", "IRL", "ITA", "LVA", "LTU", "LUX",
	"MLT", "NLD", "POL", "PRT", "ROU", "SVK", "SVN", "ESP", "SWE",
}

// Seed returns identities that country reference tables commonly lack:
// the EU aggregate and codes the tariff import used outside ISO 3166.
func Seed() []Country {
	return []Country{
		{
			ISO3:      EUU,
			Name:      "European Union",
			Aliases:   []string{"EU", "EUN", "E.U."},
			Aggregate: true,
			Members:   euMembers,
		},
		{ISO3: "XKX", Name: "Kosovo", Aliases: []string{"KOS", "XK"}},
	}
}

// SeedRegistry registers Seed into r. Seed entries never conflict with each
// other, so only conflicts with already-registered data are returned.
func SeedRegistry(r *Registry) error {
	var first error
	for _, c := range Seed() {
		if err := r.Register(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
