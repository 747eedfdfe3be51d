package deps

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// HashTree computes the content hash of a materialized dependency tree:
// SHA-256 over every regular file's path relative to root and its content, in
// sorted path order, so two installs of the same lock always agree
// byte-for-byte. Symlinks hash their target path, not the target's
// content.
func HashTree(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("deps: walk %s: %w", root, err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		// The hash input uses forward slashes so the hash is identical
		// across platforms.
		fmt.Fprintf(h, "%s\x00", filepath.ToSlash(rel))

		info, err := os.Lstat(full)
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(h, "link:%s\x00", target)
			continue
		}

		f, err := os.Open(full)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
		h.Write([]byte{0})
	}
	return "sha256-" + hex.EncodeToString(h.Sum(nil)), nil
}
