package service

import (
	"os"
	"path/filepath"
)

// Flyweights manages the reusable on-disk working copies, one directory per
// material fingerprint, so repeated polls avoid re-cloning. A flyweight is
// exclusively owned by its fingerprint's update slot while an update runs.
type Flyweights struct {
	root string
}

func NewFlyweights(root string) *Flyweights {
	return &Flyweights{root: root}
}

func (f *Flyweights) DirFor(fingerprint string) (string, error) {
	dir := filepath.Join(f.root, fingerprint)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Remove deletes the whole working copy. Called after a failed update so a
// stale checkout is never mistaken for a valid one.
func (f *Flyweights) Remove(fingerprint string) error {
	return os.RemoveAll(filepath.Join(f.root, fingerprint))
}

func (f *Flyweights) Exists(fingerprint string) bool {
	_, err := os.Stat(filepath.Join(f.root, fingerprint))
	return err == nil
}
