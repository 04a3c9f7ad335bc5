package instructions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]string
		want     string
	}{
		{"plain", "Download {{form}} for {{year}}", map[string]string{"form": "941", "year": "2024"}, "Download 941 for 2024"},
		{"whitespace in braces", "Go to {{ url }} now", map[string]string{"url": "https://x"}, "Go to https://x now"},
		{"repeated", "{{a}}-{{a}}", map[string]string{"a": "x"}, "x-x"},
		{"unknown left intact", "Hello {{name}} from {{ place }}", map[string]string{"name": "Ana"}, "Hello Ana from {{ place }}"},
		{"no params", "static text", nil, "static text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.params))
		})
	}
}

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables("{{ command }} then {{form}} and {{command}} and {{year}}")
	assert.Equal(t, []string{"command", "form", "year"}, got)
	assert.Empty(t, ExtractVariables("nothing here {single}"))
}

func TestMissingParams(t *testing.T) {
	params := map[string]string{"form": "941", "year": "  "}
	assert.Equal(t, []string{"quarter", "year"}, MissingParams([]string{"year", "form", "quarter"}, params))
	assert.Empty(t, MissingParams(nil, params))
}

func TestLoadCatalog(t *testing.T) {
	t.Run("missing file yields the default task", func(t *testing.T) {
		c, err := LoadCatalog(filepath.Join(t.TempDir(), "tasks.yaml"))
		require.NoError(t, err)
		require.Len(t, c.Tasks, 1)
		assert.Equal(t, DefaultTaskID, c.Default().ID)
		assert.Equal(t, DefaultTaskTemplate, c.Default().Template)
	})

	t.Run("valid catalog", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tasks.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - id: default
    description: Anything else
    template: tasks/default.txt
  - id: download_tax_form
    description: Download a payroll tax form
    template: tasks/download_tax_form.txt
    required_params: [form, quarter]
default_task: default
`), 0644))

		c, err := LoadCatalog(path)
		require.NoError(t, err)
		task, ok := c.Find("download_tax_form")
		require.True(t, ok)
		assert.Equal(t, []string{"form", "quarter"}, task.RequiredParams)
		assert.Equal(t, "default", c.Default().ID)
	})

	t.Run("invalid catalogs", func(t *testing.T) {
		cases := map[string]string{
			"duplicate id":     "tasks:\n  - {id: a, template: a.txt}\n  - {id: a, template: b.txt}\n",
			"missing template": "tasks:\n  - {id: a}\n",
			"unknown default":  "tasks:\n  - {id: a, template: a.txt}\ndefault_task: b\n",
			"no tasks":         "tasks: []\n",
			"malformed yaml":   "tasks: [\n",
		}
		for name, content := range cases {
			path := filepath.Join(t.TempDir(), "tasks.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadCatalog(path)
			assert.Error(t, err, name)
		}
	})
}

func TestCatalogDefaultFallsBackToFirstTask(t *testing.T) {
	c := &Catalog{Tasks: []Task{{ID: "login", Template: "tasks/login.txt"}}}
	assert.Equal(t, "login", c.Default().ID)
}
