package ingest

import (
	"io/fs"
	"path/filepath"
)

// walkFiles visits every regular file under root in lexical order. matched reports whether
// the file passes screen; walk errors are passed through with matched false.
func walkFiles(root string, skipHiddenEntries bool, fn func(path string, matched bool, err error) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fn(path, false, walkErr)
		}
		if skipHiddenEntries && path != root && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return fn(path, screen(path) == "", nil)
	})
}

// walkDirs calls fn for root and every directory below it, skipping hidden ones.
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		return fn(path)
	})
}
