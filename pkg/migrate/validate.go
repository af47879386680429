package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Guards lists the unique constraints the dispatch engines rely on to detect
// lost races. Removing one turns a typed conflict outcome into a silent
// double booking.
var Guards = []string{
	"uq_bid_windows_open_assignment",
	"uq_bids_window_user",
	"uq_assignments_driver_date",
	"uq_signup_entries_pending",
	"uq_organizations_slug",
	"uq_organizations_join_code",
}

type migrationFile struct {
	name string
	body string
}

func readMigrations(dir string) ([]migrationFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		full := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", full, err)
		}
		files = append(files, migrationFile{name: e.Name(), body: string(b)})
	}
	return files, nil
}

// ValidateDir checks migration filenames, version uniqueness and goose
// section headers. An empty directory is valid.
func ValidateDir(dir string) error {
	files, err := readMigrations(dir)
	if err != nil {
		return err
	}
	versions := make(map[string]string, len(files))
	for _, f := range files {
		m := sqlFileRe.FindStringSubmatch(f.name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", f.name)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, f.name)
		}
		versions[m[1]] = f.name
		for _, header := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(f.body, header) {
				return fmt.Errorf("migration %q missing %q", f.name, header)
			}
		}
	}
	return nil
}

// MissingGuards returns the entries of Guards no migration in dir declares.
func MissingGuards(dir string) ([]string, error) {
	files, err := readMigrations(dir)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, guard := range Guards {
		found := false
		for _, f := range files {
			if strings.Contains(f.body, guard) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, guard)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
