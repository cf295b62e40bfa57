package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FileStore is a flat directory of files. The directory is created on first write.
type FileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{
		dataDir: dataDir,
	}
}

func (fs *FileStore) Dir() string {
	return fs.dataDir
}

// List returns the sorted names of the regular files in the store. A store whose
// directory does not exist yet is empty.
func (fs *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	return files, nil
}

// Exists reports whether the store directory has been created.
func (fs *FileStore) Exists() (bool, error) {
	return fs.Contains("")
}

func (fs *FileStore) Contains(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(fs.dataDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (fs *FileStore) Store(name string, content io.Reader) error {
	if err := os.MkdirAll(fs.dataDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create store directory")
	}

	filePath := filepath.Join(fs.dataDir, name)

	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, content)
	return err
}

func (fs *FileStore) Get(name string) (io.ReadCloser, error) {
	filePath := filepath.Join(fs.dataDir, name)
	return os.Open(filePath)
}

// FreeName returns name if it is unused, otherwise the first "stem-N.ext" that is.
func (fs *FileStore) FreeName(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 2; ; i++ {
		exists, err := fs.Contains(candidate)
		if err != nil {
			return "", err
		}

		if !exists {
			return candidate, nil
		}

		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
