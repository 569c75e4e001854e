package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// maxShapefileMember caps each extracted member. Natural Earth admin-0 at
// 1:10m is well under this.
const maxShapefileMember = 512 << 20

// sidecars are the members read next to the .shp.
var sidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// ExtractShapefile unpacks the one shapefile in a ZIP archive (for example
// a Natural Earth admin-0 download) into destDir and returns the path of
// its .shp. Only members sharing the .shp stem are written, flattened into
// destDir.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	members := make(map[string]*zip.File)
	var stems []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		ext := strings.ToLower(path.Ext(base))
		stem := strings.TrimSuffix(base, path.Ext(base))
		members[strings.ToLower(stem)+ext] = f
		if ext == ".shp" {
			stems = append(stems, stem)
		}
	}
	switch len(stems) {
	case 0:
		return "", eris.Errorf("zip: no .shp file in %s", zipPath)
	case 1:
	default:
		return "", eris.Errorf("zip: %s holds %d shapefiles", zipPath, len(stems))
	}
	stem := stems[0]
	if stem == "" || stem == "." || stem == ".." {
		return "", eris.Errorf("zip: illegal shapefile name %q", stem)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create destination")
	}
	shp := filepath.Join(destDir, stem+".shp")
	if err := writeMember(members[strings.ToLower(stem)+".shp"], shp); err != nil {
		return "", err
	}
	for _, ext := range sidecars {
		if f, ok := members[strings.ToLower(stem)+ext]; ok {
			if err := writeMember(f, filepath.Join(destDir, stem+ext)); err != nil {
				return "", err
			}
		}
	}
	return shp, nil
}

func writeMember(f *zip.File, dest string) error {
	if f.UncompressedSize64 > maxShapefileMember {
		return eris.Errorf("zip: %s is %d bytes, limit %d", f.Name, f.UncompressedSize64, maxShapefileMember)
	}
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest) //nolint:gosec
	if err != nil {
		return eris.Wrap(err, "zip: create file")
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxShapefileMember+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return eris.Wrapf(err, "zip: write %s", f.Name)
	}
	if n > maxShapefileMember {
		return eris.Errorf("zip: %s exceeds %d bytes", f.Name, maxShapefileMember)
	}
	return nil
}
