// Package staging owns the directory that uploaded build artifacts are staged into.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

var (
	// ErrOutsideRoot rejects paths that escape the staging directory.
	ErrOutsideRoot = errors.New("artifact path outside staging directory")
	// ErrNotRegular rejects directories, devices and missing files.
	ErrNotRegular = errors.New("artifact is not a readable regular file")
	// ErrClaimed rejects an artifact that another job already owns.
	ErrClaimed = errors.New("artifact already claimed by another deployment")
)

// claimedDir holds one subdirectory per job that owns an artifact.
const claimedDir = ".claimed"

// Area confines artifact access to a single root directory.
type Area struct {
	root string
}

// New ensures the staging root exists.
func New(root string) (*Area, error) {
	if root == "" {
		return nil, fmt.Errorf("staging root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Area{root: abs}, nil
}

// Root returns the absolute staging directory.
func (a *Area) Root() string {
	return a.root
}

// Resolve validates an artifact reference and fills in its size and file name.
// Relative paths are taken relative to the root.
func (a *Area) Resolve(artifact domain.Artifact) (domain.Artifact, error) {
	path, err := a.confine(artifact.Path)
	if err != nil {
		return domain.Artifact{}, err
	}
	if a.claimed(path) {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrClaimed, artifact.Path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotRegular, artifact.Path)
	}
	out := domain.Artifact{Path: path, Filename: artifact.Filename, Size: info.Size()}
	if out.Filename == "" {
		out.Filename = filepath.Base(path)
	}
	return out, nil
}

// Claim moves a resolved artifact into a directory private to owner, so
// exactly one job holds it. The rename is atomic: of two claims on the same
// upload only the first succeeds, the other gets ErrClaimed.
func (a *Area) Claim(artifact domain.Artifact, owner string) (domain.Artifact, error) {
	if owner == "" || owner != filepath.Base(owner) || strings.HasPrefix(owner, ".") {
		return domain.Artifact{}, fmt.Errorf("invalid artifact owner %q", owner)
	}
	src, err := a.confine(artifact.Path)
	if err != nil {
		return domain.Artifact{}, err
	}
	if a.claimed(src) {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrClaimed, artifact.Path)
	}
	name := filepath.Base(artifact.Filename)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		name = filepath.Base(src)
	}
	dir := filepath.Join(a.root, claimedDir, owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create claim directory: %w", err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err != nil {
		_ = os.Remove(dir)
		if errors.Is(err, os.ErrNotExist) {
			return domain.Artifact{}, fmt.Errorf("%w: %s", ErrClaimed, artifact.Path)
		}
		return domain.Artifact{}, fmt.Errorf("claim artifact: %w", err)
	}
	artifact.Path = dst
	return artifact, nil
}

// Remove deletes a staged artifact, and its claim directory once empty.
func (a *Area) Remove(path string) error {
	confined, err := a.confine(path)
	if err != nil {
		return err
	}
	if err := os.Remove(confined); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	if a.claimed(confined) {
		_ = os.Remove(filepath.Dir(confined))
	}
	return nil
}

func (a *Area) claimed(path string) bool {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return false
	}
	return rel == claimedDir || strings.HasPrefix(rel, claimedDir+string(filepath.Separator))
}

func (a *Area) confine(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotRegular)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return path, nil
}
