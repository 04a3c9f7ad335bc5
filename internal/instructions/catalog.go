package instructions

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTaskID is the task used when no catalog exists or a command cannot
// be classified.
const DefaultTaskID = "default"

// DefaultTaskTemplate is the template path of the built-in default task.
const DefaultTaskTemplate = "tasks/default.txt"

// Task is one catalog entry.
type Task struct {
	ID             string   `yaml:"id"`
	Description    string   `yaml:"description"`
	Template       string   `yaml:"template"`
	RequiredParams []string `yaml:"required_params,omitempty"`
}

// Catalog lists the task types a command can be classified as.
type Catalog struct {
	Tasks       []Task `yaml:"tasks"`
	DefaultTask string `yaml:"default_task,omitempty"`
}

// DefaultCatalog holds only the built-in default task.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Tasks: []Task{{
			ID:          DefaultTaskID,
			Description: "Default task",
			Template:    DefaultTaskTemplate,
		}},
		DefaultTask: DefaultTaskID,
	}
}

// LoadCatalog reads a tasks.yaml file. A missing file yields DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse task catalog %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task catalog %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks ids are present and unique, every task names a template,
// and the default task exists.
func (c *Catalog) Validate() error {
	if len(c.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.Template) == "" {
			return fmt.Errorf("task %q has no template", t.ID)
		}
	}
	if c.DefaultTask != "" && !seen[c.DefaultTask] {
		return fmt.Errorf("default_task %q is not defined", c.DefaultTask)
	}
	return nil
}

// Find returns the task with id.
func (c *Catalog) Find(id string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Default returns the configured default task, else the task with the
// default id, else the first task.
func (c *Catalog) Default() Task {
	if c.DefaultTask != "" {
		if t, ok := c.Find(c.DefaultTask); ok {
			return t
		}
	}
	if t, ok := c.Find(DefaultTaskID); ok {
		return t
	}
	if len(c.Tasks) > 0 {
		return c.Tasks[0]
	}
	return DefaultCatalog().Tasks[0]
}
