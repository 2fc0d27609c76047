// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package datafiles is the server's data directory: the files a model
// writes during a session and the client later retrieves or deletes.
// Every access goes through an [os.Root], so names that would leave the
// directory are refused before the filesystem is touched.
package datafiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rtfmri-foundation/rtfmri/lib/fault"
)

// Store is a data directory.
type Store struct {
	root *os.Root
	dir  string
}

// Open creates dir if needed and opens it as a root.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datafiles: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("datafiles: %w", err)
	}
	return &Store{root: root, dir: dir}, nil
}

// Dir returns the directory the store was opened on.
func (s *Store) Dir() string { return s.dir }

// Close releases the root.
func (s *Store) Close() error { return s.root.Close() }

// Size returns the size of name in bytes.
func (s *Store) Size(name string) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	info, err := s.root.Stat(name)
	if err != nil {
		return 0, translate(name, err)
	}
	if info.IsDir() {
		return 0, fault.New(fault.CodeRequest, "%s is a directory", name)
	}
	return info.Size(), nil
}

// Read returns the contents of name.
func (s *Store) Read(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := s.root.ReadFile(name)
	if err != nil {
		return nil, translate(name, err)
	}
	return data, nil
}

// Write creates or replaces name, making parent directories.
func (s *Store) Write(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if dir := path.Dir(filepath.ToSlash(name)); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return translate(name, err)
		}
	}
	if err := s.root.WriteFile(name, data, 0o644); err != nil {
		return translate(name, err)
	}
	return nil
}

// Delete removes every regular file whose slash-separated path
// relative to the root matches pattern, and returns the removed names.
// Matching no files is not an error.
func (s *Store) Delete(pattern string) ([]string, error) {
	if err := checkName(pattern); err != nil {
		return nil, err
	}
	pattern = filepath.ToSlash(pattern)
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fault.New(fault.CodeRequest, "bad file pattern %q", pattern)
	}

	var matched []string
	err := fs.WalkDir(s.root.FS(), ".", func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if ok, _ := path.Match(pattern, name); ok {
			matched = append(matched, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("datafiles: walking: %w", err)
	}

	for _, name := range matched {
		if err := s.root.Remove(name); err != nil {
			return nil, translate(name, err)
		}
	}
	return matched, nil
}

func checkName(name string) error {
	if name == "" || !filepath.IsLocal(name) {
		return fault.New(fault.CodeRequest, "%q is outside the data directory", name)
	}
	return nil
}

func translate(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fault.New(fault.CodeNotFound, "no data file %s", name)
	}
	return fmt.Errorf("datafiles: %s: %w", name, err)
}
