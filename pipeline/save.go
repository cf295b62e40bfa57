package pipeline

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mempirate/recast/render"
	"github.com/mempirate/recast/store"
	"github.com/mempirate/recast/util"
)

// Save writes the rendered content of a successful result to path. When path is
// empty the file is created in dir under a name derived from the page title, URL
// path or host, without replacing an existing file. It returns the written path.
func Save(res *Result, path, dir string) (string, error) {
	if !res.Success {
		return "", errors.New("refusing to save a failed result")
	}

	var (
		files *store.FileStore
		name  string
	)

	if path != "" {
		files = store.NewFileStore(filepath.Dir(path))
		name = filepath.Base(path)
	} else {
		format, err := render.ParseFormat(res.Format)
		if err != nil {
			return "", err
		}

		uri, err := url.Parse(res.URL)
		if err != nil {
			return "", errors.Wrap(err, "invalid result URL")
		}

		files = store.NewFileStore(dir)
		name, err = files.FreeName(util.FileName(uri, res.Metadata.Title, format.Ext()))
		if err != nil {
			return "", err
		}
	}

	if err := files.Store(name, strings.NewReader(res.Content)); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", name)
	}

	return filepath.Join(files.Dir(), name), nil
}
