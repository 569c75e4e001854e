package source

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/db"
	"github.com/sells-group/tariff-map/internal/identity"
)

// ImportReport counts what an import wrote and what it had to skip.
type ImportReport struct {
	Written    int64
	Unresolved []string
}

// ImportTariffs upserts tariff rows into tbl_trump_tariff keyed by
// partner_iso3. Rows without a code are resolved by partner name through
// reg; names that do not resolve are skipped and reported.
func ImportTariffs(ctx context.Context, pool db.Pool, reg *identity.Registry, rows []TariffRow, origin string) (ImportReport, error) {
	var rep ImportReport
	seen := make(map[string]bool, len(rows))
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		iso3 := identity.NormalizeCode(r.PartnerISO3)
		if iso3 == "" {
			var ok bool
			if iso3, ok = reg.Resolve(identity.Name(r.PartnerName)); !ok {
				rep.Unresolved = append(rep.Unresolved, r.PartnerName)
				continue
			}
		}
		if seen[iso3] {
			zap.L().Warn("source: duplicate tariff row, keeping the first",
				zap.String("iso3", iso3), zap.String("partner_name", r.PartnerName))
			continue
		}
		seen[iso3] = true
		name := r.PartnerName
		if name == "" {
			if c, ok := reg.Lookup(iso3); ok {
				name = c.Name
			}
		}
		data = append(data, []any{iso3, name, r.Claimed, r.Claimed, r.Reciprocal, origin})
	}
	sort.Strings(rep.Unresolved)

	n, err := db.Apply(ctx, pool, db.Load{
		Table: "tbl_trump_tariff",
		Columns: []string{
			"partner_iso3", "partner_name", ColClaimed,
			"wto_reported_tariff", ColReciprocal, "source",
		},
		Key: []string{"partner_iso3"},
	}, data)
	if err != nil {
		return rep, eris.Wrap(err, "source: import tariffs")
	}
	rep.Written = n
	return rep, nil
}

// ImportCountries inserts identities missing from tbl_countries. Existing
// rows are left alone.
func ImportCountries(ctx context.Context, pool db.Pool, countries []identity.Country) (int64, error) {
	data := make([][]any, 0, len(countries))
	for _, c := range countries {
		if c.Aggregate {
			continue
		}
		data = append(data, []any{identity.NormalizeCode(c.ISO3), c.Name})
	}
	n, err := db.Apply(ctx, pool, db.Load{
		Table:   "tbl_countries",
		Columns: []string{"iso_alpha3", "name"},
		Key:     []string{"iso_alpha3"},
		Mode:    db.InsertMissing,
	}, data)
	if err != nil {
		return 0, eris.Wrap(err, "source: import countries")
	}
	return n, nil
}

// ImportAliases replaces the tbl_country_code_mapping rows tagged with
// origin by aliases.
func ImportAliases(ctx context.Context, pool db.Pool, aliases map[string]string, origin string) (int64, error) {
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make([][]any, 0, len(keys))
	for _, alt := range keys {
		data = append(data, []any{identity.NormalizeCode(aliases[alt]), alt, origin})
	}
	n, err := db.Apply(ctx, pool, db.Load{
		Table:    "tbl_country_code_mapping",
		Columns:  []string{"iso_alpha3", "alternative_code", "source"},
		Mode:     db.ReplaceTagged,
		TagCol:   "source",
		TagValue: origin,
	}, data)
	if err != nil {
		return 0, eris.Wrap(err, "source: import aliases")
	}
	return n, nil
}
