package extension

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// Directory is the reserved sub-tree scanned in every installed package.
const Directory = "extensions"

// candidate is a unit found on disk, not yet loaded.
type candidate struct {
	// dotted is the unit's location with separators turned into dots.
	dotted string
	source string
}

type scanner struct {
	exclude  []string
	suffixes []string
}

// scan lists the units below root sorted by dotted name. A missing root
// yields no units.
func (s scanner) scan(root string) ([]candidate, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		found []candidate
	)
	add := func(rel, source string) {
		mu.Lock()
		found = append(found, candidate{dotted: strings.ReplaceAll(rel, "/", "."), source: source})
		mu.Unlock()
	}

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if s.excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if entry, ok := s.dirEntry(p); ok {
				add(rel, entry)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if suffix, ok := s.suffix(d.Name()); ok {
			add(strings.TrimSuffix(rel, suffix), p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].dotted != found[j].dotted {
			return found[i].dotted < found[j].dotted
		}
		return found[i].source < found[j].source
	})
	return found, nil
}

// excluded matches rel and its base name against the exclude patterns.
func (s scanner) excluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// suffix returns the source suffix name ends with.
func (s scanner) suffix(name string) (string, bool) {
	for _, suffix := range s.suffixes {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			return suffix, true
		}
	}
	return "", false
}

// dirEntry returns the index file that makes dir a unit.
func (s scanner) dirEntry(dir string) (string, bool) {
	for _, suffix := range s.suffixes {
		entry := filepath.Join(dir, "index"+suffix)
		if info, err := os.Stat(entry); err == nil && info.Mode().IsRegular() {
			return entry, true
		}
	}
	return "", false
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}
