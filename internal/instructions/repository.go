package instructions

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harrison/webpilot/internal/filelock"
)

// SystemTemplatePath is the system prompt used for instruction rewrites,
// relative to the templates directory.
const SystemTemplatePath = "system/base.txt"

const (
	generatedDirName  = "generated"
	maxFilenameCmdLen = 30
	headerRule        = "# ==================================="
)

const builtinSystemTemplate = `You are an expert in browser automation. You write step-by-step instructions
for an agent that controls a Chrome browser through tools (navigate, click,
fill, wait_for_selector, submit_form, find_expiring_resource, download_resource
and ask_user).

The user's command is: {{command}}

Rewrite the task description you are given into clear, numbered instructions.
Name concrete selectors when they are known, say what to wait for after each
navigation, and tell the agent to ask the user for credentials or one-time
codes instead of guessing them. Reply with the instructions only.`

const builtinDefaultTemplate = `Complete the following task in the browser: {{command}}

1. Work out which site the task refers to and navigate to it.
2. If a login is required, ask the user for the credentials with ask_user.
3. Wait for each page to finish loading before interacting with it.
4. Carry out the task, verifying each step took effect before moving on.
5. If a file has to be downloaded, use find_expiring_resource and report where it was saved.
6. Finish with a short summary of what was done.`

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Repository reads task templates and stores generated instructions.
type Repository struct {
	dir string
	now func() time.Time
}

// NewRepository creates a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir, now: time.Now}
}

// Dir returns the templates directory.
func (r *Repository) Dir() string {
	return r.dir
}

// GeneratedDir returns the directory generated instructions are saved in.
func (r *Repository) GeneratedDir() string {
	return filepath.Join(r.dir, generatedDirName)
}

// Template reads the template at name, relative to the templates directory.
// The default task template falls back to a built-in copy when absent.
func (r *Repository) Template(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) && name == DefaultTaskTemplate {
			return builtinDefaultTemplate, nil
		}
		return "", fmt.Errorf("failed to load template %s: %w", name, err)
	}
	return string(data), nil
}

// SystemTemplate reads system/base.txt, falling back to a built-in prompt.
func (r *Repository) SystemTemplate() string {
	data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(SystemTemplatePath)))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return builtinSystemTemplate
	}
	return string(data)
}

// ListTemplates returns the .txt templates directly under category.
func (r *Repository) ListTemplates(category string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, filepath.FromSlash(category)))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, filepath.ToSlash(filepath.Join(category, e.Name())))
		}
	}
	return names, nil
}

// SaveGenerated writes instructions under the generated directory with a
// metadata header and returns the file path.
func (r *Repository) SaveGenerated(command, taskType, instructions string) (string, error) {
	now := r.now().UTC()
	safe := strings.ToLower(unsafeFilenameChars.ReplaceAllString(command, "_"))
	if len(safe) > maxFilenameCmdLen {
		safe = safe[:maxFilenameCmdLen]
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z07:00"))
	path := filepath.Join(r.GeneratedDir(), fmt.Sprintf("%s_%s_%s.txt", taskType, safe, stamp))

	content := strings.Join([]string{
		"# Generated Prompt",
		"# Original Command: " + command,
		"# Task Type: " + taskType,
		"# Generated: " + now.Format(time.RFC3339Nano),
		headerRule,
		"",
		instructions,
	}, "\n")

	if err := filelock.LockAndWrite(path, []byte(content)); err != nil {
		return "", fmt.Errorf("failed to save generated instructions: %w", err)
	}
	return path, nil
}

// GeneratedInfo is the header of a saved instruction file.
type GeneratedInfo struct {
	Filename    string
	Command     string
	TaskType    string
	GeneratedAt time.Time
}

// RecentGenerated lists saved instruction files, newest first, at most limit
// (all when limit <= 0). A missing directory yields no entries.
func (r *Repository) RecentGenerated(limit int) ([]GeneratedInfo, error) {
	entries, err := os.ReadDir(r.GeneratedDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generated directory: %w", err)
	}

	var infos []GeneratedInfo
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := readGeneratedHeader(filepath.Join(r.GeneratedDir(), e.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].GeneratedAt.After(infos[j].GeneratedAt)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func readGeneratedHeader(path string) (GeneratedInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return GeneratedInfo{}, err
	}
	defer f.Close()

	info := GeneratedInfo{Filename: filepath.Base(path), Command: "Unknown", TaskType: "Unknown"}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == headerRule || !strings.HasPrefix(line, "#") {
			break
		}
		switch {
		case strings.HasPrefix(line, "# Original Command: "):
			info.Command = strings.TrimPrefix(line, "# Original Command: ")
		case strings.HasPrefix(line, "# Task Type: "):
			info.TaskType = strings.TrimPrefix(line, "# Task Type: ")
		case strings.HasPrefix(line, "# Generated: "):
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(line, "# Generated: ")); err == nil {
				info.GeneratedAt = t
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return GeneratedInfo{}, err
	}
	if info.GeneratedAt.IsZero() {
		if st, err := f.Stat(); err == nil {
			info.GeneratedAt = st.ModTime()
		}
	}
	return info, nil
}
