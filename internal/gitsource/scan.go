package gitsource

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
}

var envPatterns = []*regexp.Regexp{
	regexp.MustCompile(`process\.env\.([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`process\.env\[\s*["']([A-Za-z_][A-Za-z0-9_]*)["']\s*\]`),
	regexp.MustCompile(`os\.Getenv\(\s*"([A-Za-z_][A-Za-z0-9_]*)"\s*\)`),
	regexp.MustCompile(`os\.LookupEnv\(\s*"([A-Za-z_][A-Za-z0-9_]*)"\s*\)`),
	regexp.MustCompile(`os\.environ\[\s*["']([A-Za-z_][A-Za-z0-9_]*)["']\s*\]`),
	regexp.MustCompile(`os\.environ\.get\(\s*["']([A-Za-z_][A-Za-z0-9_]*)["']`),
	regexp.MustCompile(`ENV\[\s*["']([A-Za-z_][A-Za-z0-9_]*)["']\s*\]`),
	regexp.MustCompile(`\bgetenv\(\s*["']([A-Za-z_][A-Za-z0-9_]*)["']`),
}

// ScanEnvNames walks fs and returns the sorted, de-duplicated environment variable names
// referenced by source files no larger than maxBytes.
func ScanEnvNames(fs billy.Filesystem, maxBytes int64) ([]string, error) {
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})
	err := util.Walk(fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == "." && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			// memfs lists the root as its own child.
			if _, again := visited[path]; again {
				return filepath.SkipDir
			}
			visited[path] = struct{}{}
			if _, skip := skippedDirs[info.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || (maxBytes > 0 && info.Size() > maxBytes) {
			return nil
		}
		data, err := util.ReadFile(fs, path)
		if err != nil {
			return err
		}
		for _, re := range envPatterns {
			for _, match := range re.FindAllSubmatch(data, -1) {
				seen[string(match[1])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
