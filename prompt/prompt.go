// Package prompt loads named prompt templates from a directory. A Store is built
// once and only read afterwards, so it can be shared freely.
package prompt

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mempirate/recast/log"
	"github.com/mempirate/recast/store"
)

// ContentPlaceholder marks where the page text goes in a user prompt.
const ContentPlaceholder = "{content}"

var ErrTemplateNotFound = errors.New("template not found")

// InvalidError reports a template file that cannot be used.
type InvalidError struct {
	Name   string
	File   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("template %q (%s) is invalid: %s", e.Name, e.File, e.Reason)
}

type Template struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	SystemPrompt string         `yaml:"system_prompt"`
	UserPrompt   string         `yaml:"user_prompt"`
	Parameters   map[string]any `yaml:"parameters,omitempty"`
}

// Validate checks the required fields and that the user prompt has exactly one
// content placeholder.
func (t *Template) Validate() error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return errors.New("missing name")
	case strings.TrimSpace(t.SystemPrompt) == "":
		return errors.New("missing system_prompt")
	case strings.TrimSpace(t.UserPrompt) == "":
		return errors.New("missing user_prompt")
	}

	switch n := strings.Count(t.UserPrompt, ContentPlaceholder); n {
	case 1:
		return nil
	case 0:
		return errors.Errorf("user_prompt has no %s placeholder", ContentPlaceholder)
	default:
		return errors.Errorf("user_prompt has %d %s placeholders, expected one", n, ContentPlaceholder)
	}
}

// BuildSystemPrompt returns the system prompt with parameter placeholders filled.
func (t *Template) BuildSystemPrompt() string {
	return t.fill(t.SystemPrompt)
}

// BuildUserPrompt fills the user prompt. Parameter placeholders such as {style} are
// replaced first, then the content is inserted verbatim, so text that happens to
// contain braces is never substituted.
func (t *Template) BuildUserPrompt(content string) string {
	before, after, _ := strings.Cut(t.UserPrompt, ContentPlaceholder)
	return t.fill(before) + content + t.fill(after)
}

func (t *Template) fill(s string) string {
	if len(t.Parameters) == 0 {
		return s
	}

	pairs := make([]string, 0, 2*len(t.Parameters))
	for _, k := range t.parameterNames() {
		if k == "content" {
			continue
		}
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(t.Parameters[k]))
	}

	return strings.NewReplacer(pairs...).Replace(s)
}

// MaxLength returns the max_length parameter, or 0 when unset or not a number.
func (t *Template) MaxLength() int {
	switch v := t.Parameters["max_length"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}

	return 0
}

func (t *Template) parameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for k := range t.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Store is the set of templates found in one directory.
type Store struct {
	log zerolog.Logger

	files     *store.FileStore
	templates map[string]*Template
	invalid   map[string]*InvalidError
}

// Load reads every .yaml, .yml and .json file in dir. A directory that does not
// exist is seeded with the default templates first. Files that fail to parse or
// validate are remembered so that looking them up reports InvalidError rather
// than ErrTemplateNotFound.
func Load(dir string) (*Store, error) {
	s := &Store{
		log:       log.NewLogger("prompt"),
		files:     store.NewFileStore(dir),
		templates: make(map[string]*Template),
		invalid:   make(map[string]*InvalidError),
	}

	exists, err := s.files.Exists()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat template directory %s", dir)
	}

	if !exists {
		s.log.Warn().Str("dir", dir).Msg("Template directory missing, writing defaults")
		if err := WriteDefaults(s.files, false); err != nil {
			return nil, err
		}
	}

	names, err := s.files.List()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list templates in %s", dir)
	}

	for _, name := range names {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml", ".json":
			s.loadFile(name)
		}
	}

	s.log.Info().Str("dir", dir).Int("templates", len(s.templates)).Int("invalid", len(s.invalid)).Msg("Templates loaded")

	return s, nil
}

func (s *Store) loadFile(file string) {
	stem := strings.TrimSuffix(file, filepath.Ext(file))

	t, err := s.readFile(file)
	if err != nil {
		s.invalid[stem] = &InvalidError{Name: stem, File: file, Reason: err.Error()}
		s.log.Warn().Str("file", file).Err(err).Msg("Skipping unreadable template")
		return
	}

	if t.Name == "" {
		t.Name = stem
	}

	if err := t.Validate(); err != nil {
		s.invalid[t.Name] = &InvalidError{Name: t.Name, File: file, Reason: err.Error()}
		s.log.Warn().Str("file", file).Str("name", t.Name).Err(err).Msg("Skipping invalid template")
		return
	}

	if _, dup := s.templates[t.Name]; dup {
		s.log.Warn().Str("file", file).Str("name", t.Name).Msg("Duplicate template name, keeping the first")
		return
	}

	s.templates[t.Name] = t
	s.log.Debug().Str("file", file).Str("name", t.Name).Msg("Template loaded")
}

func (s *Store) readFile(file string) (*Template, error) {
	r, err := s.files.Get(file)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// JSON documents are valid YAML.
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to parse template")
	}

	return &t, nil
}

// Get returns the template with exactly the given name.
func (s *Store) Get(name string) (*Template, error) {
	if t, ok := s.templates[name]; ok {
		return t, nil
	}

	if invalid, ok := s.invalid[name]; ok {
		return nil, invalid
	}

	return nil, errors.Wrapf(ErrTemplateNotFound, "%q in %s", name, s.files.Dir())
}

// List returns the valid templates sorted by name.
func (s *Store) List() []*Template {
	list := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		list = append(list, t)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	return list
}
