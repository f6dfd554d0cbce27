package lblcrop

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FilesByExt returns all regular files with file extension ext found under dirPath,
// including sub directories. The extension match is case insensitive and all files are
// returned if ext is empty. The result is sorted.
func FilesByExt(dirPath, ext string) ([]string, error) {
	dirInfo, err := os.Stat(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read directory %q", dirPath)
	}
	if !dirInfo.IsDir() {
		return nil, errors.Errorf("%q is not a directory", dirPath)
	}

	ext = strings.ToLower(ext)
	files := make([]string, 0, 100)
	err = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithField("path", path).Warnf("Failed to access: %v", err)
			return nil
		}
		// Must be a regular file or a symlink and have the requested extension.
		if d.IsDir() || (!d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0) {
			return nil
		}
		if ext != "" && strings.ToLower(filepath.Ext(path)) != ext {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %q", dirPath)
	}

	sort.Strings(files)
	return files, nil
}

// filesInDir returns the regular files directly inside dirPath.
func filesInDir(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read directory %q", dirPath)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dirPath, e.Name()))
	}
	return files, nil
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	if ext == "" {
		return "", "", "", errors.Errorf("missing file extension in %q", path)
	}

	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	baseNoExt = file[0 : len(file)-len(ext)]
	ext = ext[1:]

	return dir, baseNoExt, ext, nil
}

// stem returns the file name of path without directory and extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// mapFileNamesToPaths maps the base names of the given file paths, with the file type
// extensions stripped off, to the full path. If several files share a base name, the first one
// in sorted order wins.
func mapFileNamesToPaths(filePaths []string) map[string]string {
	sorted := append([]string(nil), filePaths...)
	sort.Strings(sorted)

	mapping := make(map[string]string, len(sorted))
	for _, path := range sorted {
		_, baseNoExt, _, err := splitPath(path)
		if err != nil {
			log.Debug(err)
			continue
		}
		if prev, ok := mapping[baseNoExt]; ok {
			log.WithField("file", path).Warnf("Ambiguous image name, using %q", prev)
			continue
		}
		mapping[baseNoExt] = path
	}

	return mapping
}

// readLines returns a slice of lines read from the file at path.
func readLines(path string) (lines []string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read file %q", path)
	}
	defer closeWithErrCheck(file, &err)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q as lines", path)
	}

	return lines, nil
}

// sanitizeLabel makes a label safe for use as a file or directory name.
func sanitizeLabel(label string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	s := strings.TrimSpace(r.Replace(label))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
