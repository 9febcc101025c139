package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"levtrader/internal/store"
)

// artifactFrontmatter is the YAML header on every task run artifact.
type artifactFrontmatter struct {
	Task   string    `yaml:"task"`
	Kind   string    `yaml:"kind"`
	Status string    `yaml:"status"`
	RunAt  time.Time `yaml:"run_at"`
}

// writeArtifact persists one markdown file per run under a per-task
// directory. Artifacts are operator-facing only; a write failure is reported
// but never fails the run.
func (s *Service) writeArtifact(task *store.ScheduledTask, runAt time.Time, payload any, runErr error) (string, error) {
	if s.artifactDir == "" {
		return "", nil
	}
	dir := filepath.Join(s.artifactDir, sanitizeName(task.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, runAt.Format("2006-01-02T15-04-05Z")+".md")

	status := "ok"
	if runErr != nil {
		status = "error"
	}
	front, err := yaml.Marshal(artifactFrontmatter{
		Task:   task.Name,
		Kind:   string(task.Kind),
		Status: status,
		RunAt:  runAt,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	if runErr != nil {
		fmt.Fprintf(&b, "## Error\n\n%s\n", runErr.Error())
	} else {
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			raw = []byte("{}")
		}
		fmt.Fprintf(&b, "## Result\n\n```json\n%s\n```\n", string(raw))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
