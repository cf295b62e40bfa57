package document

import "testing"

func TestFindTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty",
			content:  "",
			expected: "",
		},
		{
			name:     "simple",
			content:  "# Title\n",
			expected: "Title",
		},
		{
			name:     "empty title",
			content:  "#\n",
			expected: "",
		},
		{
			name:     "no title",
			content:  "content",
			expected: "",
		},
		{
			name:     "multiple titles",
			content:  "# Title 1\n# Title 2\n",
			expected: "Title 1",
		},
		{
			name:     "second level first",
			content:  "## Sub\n\n# Main\n",
			expected: "Main",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc := &Document{
				Text: test.content,
			}

			title := doc.FindTitle()
			if title != test.expected {
				t.Errorf("unexpected title: %s", title)
			}
		})
	}
}

func TestFindTitleKeepsExisting(t *testing.T) {
	doc := &Document{Text: "# Heading\n", Metadata: Metadata{Title: "From meta"}}

	if title := doc.FindTitle(); title != "From meta" {
		t.Errorf("unexpected title: %s", title)
	}
}
