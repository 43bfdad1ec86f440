package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Footprint is the on-disk size of the store and its sidecar indexes.
type Footprint struct {
	Total      int64            `json:"total_bytes"`
	Components map[string]int64 `json:"components"`
}

// DiskFootprint measures each named path. A path may be a file or a directory.
// Database files also count their -wal and -shm companions. Missing paths count as zero.
func DiskFootprint(paths map[string]string) (*Footprint, error) {
	fp := &Footprint{Components: make(map[string]int64, len(paths))}
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := paths[name]
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			side, err := pathSize(p + suffix)
			if err != nil {
				return nil, err
			}
			n += side
		}
		fp.Components[name] = n
		fp.Total += n
	}
	return fp, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
