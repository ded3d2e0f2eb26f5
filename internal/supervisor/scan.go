package supervisor

import (
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"promptd/internal/common/fsutil"
	"promptd/pkg/types"
)

// ScanModels walks dir for *.gguf files and returns them sorted by name,
// case-insensitively. A missing directory yields an empty list rather than
// an error: the UI treats "no models yet" as a normal state.
func ScanModels(dir string) []types.ModelInfo {
	base, err := fsutil.ExpandHome(dir)
	if err != nil || base == "" {
		return nil
	}
	var models []types.ModelInfo
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".gguf") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		models = append(models, types.ModelInfo{
			Name:   strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Path:   path,
			SizeGB: math.Round(float64(fi.Size())/float64(1<<30)*100) / 100,
		})
		return nil
	})
	sort.Slice(models, func(i, j int) bool {
		return strings.ToLower(models[i].Name) < strings.ToLower(models[j].Name)
	})
	return models
}
