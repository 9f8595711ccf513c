package scanner

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// isArtifact reports OS metadata files that never hold logs.
func isArtifact(name string) bool {
	switch name {
	case ".DS_Store", "Thumbs.db", "desktop.ini":
		return true
	}
	return strings.HasPrefix(name, "._")
}

// depth returns how many directories separate path from root.
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// walkFiles calls fn for every non-directory entry under root in lexical order, descending at most
// maxDepth directories below root. Directory read errors below root go to onErr and the walk
// continues; an error on root itself is returned.
func walkFiles(root string, maxDepth int, fn func(path string, d fs.DirEntry) error, onErr func(path string, err error)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			onErr(path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && depth(root, path) > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path, d)
	})
}
