// Package timezone enumerates the IANA timezones the scheduler registers
// triggers for.
package timezone

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// ErrNoZoneinfo is returned when no zoneinfo database could be read.
var ErrNoZoneinfo = errors.New("no zoneinfo database found")

// Dirs are searched in order; $ZONEINFO is tried first when set.
var Dirs = []string{
	"/usr/share/zoneinfo",
	"/usr/share/lib/zoneinfo",
	"/usr/lib/locale/TZ",
}

// Not zones, or aliases of the system's own zone.
var skip = map[string]bool{
	"posix":      true,
	"right":      true,
	"posixrules": true,
	"localtime":  true,
	"Factory":    true,
	"SystemV":    true,
}

// List returns every timezone name in the first readable zoneinfo
// directory, sorted.
func List() ([]string, error) {
	dirs := Dirs
	if env := os.Getenv("ZONEINFO"); env != "" {
		dirs = append([]string{env}, dirs...)
	}
	for _, dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		zones, err := ListFrom(os.DirFS(dir))
		if err == nil && len(zones) > 0 {
			return zones, nil
		}
	}
	return nil, ErrNoZoneinfo
}

// ListFrom walks a zoneinfo tree and returns the names time.LoadLocation
// accepts, sorted.
func ListFrom(fsys fs.FS) ([]string, error) {
	var zones []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		name := path.Base(p)
		if skip[name] || strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.Contains(name, ".") || !isUpper(name[0]) {
			return nil
		}
		if _, err := time.LoadLocation(p); err != nil {
			return nil
		}
		zones = append(zones, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(zones)
	return zones, nil
}

// Resolve returns override when it is non-empty, otherwise List. When
// enumeration fails it falls back to the single zone fallback.
func Resolve(override []string, fallback string) ([]string, error) {
	if len(override) > 0 {
		return override, nil
	}
	zones, err := List()
	if err != nil {
		return []string{fallback}, err
	}
	return zones, nil
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}
