package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const versionLayout = "20060102150405"

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// File is one goose SQL migration on disk.
type File struct {
	Version string
	Name    string
	Path    string
}

// ScanDir lists the .sql migrations in dir ordered by version. Files that
// do not follow <YYYYMMDDHHMMSS>_<name>.sql and duplicate versions are
// reported together.
func ScanDir(dir string) ([]File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("migrations dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %q: %w", dir, err)
	}

	var (
		files []File
		errs  error
	)
	byVersion := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(entry.Name())
		if match == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected <YYYYMMDDHHMMSS>_<name>.sql", entry.Name()))
			continue
		}
		if other, dup := byVersion[match[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", entry.Name(), match[1], other))
			continue
		}
		byVersion[match[1]] = entry.Name()
		files = append(files, File{Version: match[1], Name: match[2], Path: filepath.Join(dir, entry.Name())})
	}
	if errs != nil {
		return nil, errs
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ValidateDir checks every migration in dir has both goose sections and
// balanced statement blocks.
func ValidateDir(dir string) error {
	files, err := ScanDir(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	var errs error
	for _, f := range files {
		errs = multierr.Append(errs, checkAnnotations(f))
	}
	return errs
}

func checkAnnotations(f File) error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(f.Path), err)
	}
	body := string(raw)
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing -- +goose Up", filepath.Base(f.Path))
	case down < 0:
		return fmt.Errorf("%s: missing -- +goose Down", filepath.Base(f.Path))
	case down < up:
		return fmt.Errorf("%s: Down section precedes Up", filepath.Base(f.Path))
	}
	if begins, ends := strings.Count(body, "-- +goose StatementBegin"), strings.Count(body, "-- +goose StatementEnd"); begins != ends {
		return fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", filepath.Base(f.Path), begins, ends)
	}
	return nil
}

// CreateSQLMigration writes an empty goose migration named after a slug of
// name and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format(versionLayout)+"_"+slug+".sql")
	content := "-- +goose Up\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n" +
		"-- +goose Down\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return path, f.Close()
}
