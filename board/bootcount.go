// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// BootCounter counts the starts of the node in a small text file.
type BootCounter struct {
	path  string
	count uint32
	err   error
}

// NewBootCounter increments the count stored at path and keeps the result.
// A missing file counts as zero. A corrupted or unwritable file is
// reported by BootCount.
func NewBootCounter(path string) *BootCounter {
	b := &BootCounter{path: path}
	b.count, b.err = increment(path)
	return b
}

// BootCount implements loop.BootCounter.
func (b *BootCounter) BootCount() (uint32, error) {
	return b.count, b.err
}

func increment(path string) (uint32, error) {
	var n uint32
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return 0, fmt.Errorf("board: boot count: %w", err)
	default:
		v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("board: boot count %s: %w", path, err)
		}
		n = uint32(v)
	}
	n++
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(n), 10)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("board: boot count: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("board: boot count: %w", err)
	}
	return n, nil
}
