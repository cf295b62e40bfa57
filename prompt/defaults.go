package prompt

import (
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mempirate/recast/store"
)

// Defaults returns the built-in templates.
func Defaults() []*Template {
	return []*Template{
		{
			Name:        "summary",
			Description: "Concise summary of the page",
			SystemPrompt: `You are an expert at summarizing web content. Distill the page into a concise summary.
Requirements:
- Keep the key points and drop redundant information
- Use precise, economical language
- Preserve key figures, data and conclusions
- Stay between 300 and {max_length} words
- Use bullet points or short paragraphs`,
			UserPrompt: "Summarize the following web page content:\n\n{content}",
			Parameters: map[string]any{"max_length": 500, "style": "summary"},
		},
		{
			Name:        "formal",
			Description: "Formal report",
			SystemPrompt: `You are a professional content analyst. Rewrite the page as a formal report.
Requirements:
- Objective, professional, third-person language
- Clear structure: title, overview, main points, conclusion
- Keep the content accurate and complete
- Stay between 800 and {max_length} words`,
			UserPrompt: "Rewrite the following web page content as a formal report:\n\n{content}",
			Parameters: map[string]any{"max_length": 1200, "style": "formal"},
		},
		{
			Name:        "xiaohongshu",
			Description: "Lively social media post with emoji",
			SystemPrompt: `You are a social media copywriter. Turn the page into a lively lifestyle post.
Requirements:
- Open with a catchy title or question
- Three to five short sections, each starting with an emoji or a small heading
- Friendly first-person voice, highlight the most useful points
- Stay under {max_length} words
- End with a question or call to action that invites comments`,
			UserPrompt: "Turn the following web page content into a {style} social media post:\n\n{content}",
			Parameters: map[string]any{"max_length": 800, "style": "casual"},
		},
	}
}

// WriteDefaults writes the built-in templates as YAML files into files. Existing
// files are left alone unless overwrite is set.
func WriteDefaults(files *store.FileStore, overwrite bool) error {
	for _, t := range Defaults() {
		name := t.Name + ".yaml"

		if !overwrite {
			exists, err := files.Contains(name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
		}

		data, err := yaml.Marshal(t)
		if err != nil {
			return errors.Wrapf(err, "failed to encode template %s", t.Name)
		}

		if err := files.Store(name, bytes.NewReader(data)); err != nil {
			return errors.Wrapf(err, "failed to write template %s", t.Name)
		}
	}

	return nil
}
