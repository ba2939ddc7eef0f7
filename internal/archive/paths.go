package archive

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	ManifestEntry = "manifest.json"
	PayloadEntry  = "payload.json"
	ChecksumEntry = "payload.sha256"

	contentPrefix = "wp-content/"

	CurrentFormatVersion = 2
	ProducerVersion      = "1.0.0"
)

var allowedRoots = []string{"uploads", "plugins", "themes"}

func AllowedRoots() []string {
	return append([]string(nil), allowedRoots...)
}

// EntryName validates a root-relative path such as "uploads/2024/a.jpg" or
// "wp-content/uploads/2024/a.jpg" and returns the archive entry name together
// with its root and the path below that root.
func EntryName(rel string) (name, root, sub string, err error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", "", "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
		}
	}

	clean := path.Clean(rel)
	clean = strings.TrimPrefix(clean, contentPrefix)

	root, sub, ok := strings.Cut(clean, "/")
	if !ok || sub == "" || sub == "." {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	if !isAllowedRoot(root) {
		return "", "", "", fmt.Errorf("%w: корень %q не разрешен", ErrUnsafePath, root)
	}

	return contentPrefix + root + "/" + sub, root, sub, nil
}

// SafeJoin resolves an archive-relative sub path below dir and refuses any
// result that escapes dir.
func SafeJoin(dir, sub string) (string, error) {
	if filepath.IsAbs(sub) || strings.HasPrefix(sub, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, sub)
	}
	target := filepath.Join(dir, filepath.FromSlash(sub))
	base := filepath.Clean(dir)
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, sub)
	}
	return target, nil
}

func isAllowedRoot(root string) bool {
	for _, r := range allowedRoots {
		if r == root {
			return true
		}
	}
	return false
}
