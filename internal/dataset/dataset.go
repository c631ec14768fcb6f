package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"sonomap/internal/analysis"
	"sonomap/internal/cache"
)

// Record describes one audio file in a dataset snapshot. Path is unique
// within a snapshot; Size doubles as a weak integrity check in the cache
// key. Analysis is nil until processing resolves it.
type Record struct {
	Path string
	Name string
	Size int64

	Analysis *analysis.Result
	Source   analysis.Source
}

// CacheFile adapts the record to the cache's file identity.
func (r *Record) CacheFile() cache.File {
	return cache.File{Path: r.Path, Size: r.Size, Name: r.Name}
}

var supportedExtensions = map[string]struct{}{
	".wav": {},
}

// Load walks dir for supported audio files and returns one record per file,
// sorted by path for a deterministic processing order.
func Load(dir string) ([]*Record, error) {
	var records []*Record
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := supportedExtensions[ext]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		normalized := norm.NFC.String(path)
		records = append(records, &Record{
			Path: normalized,
			Name: norm.NFC.String(filepath.Base(path)),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan dataset %s: %w", dir, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records, nil
}
