package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Facts is the hand-curated block of current-period highlights injected
// into the system prompt. An external sync job rewrites the backing file;
// the Library picks the change up without a restart.
type Facts struct {
	Period     string   `yaml:"period"`
	Highlights []string `yaml:"highlights"`
	Trends     []string `yaml:"trends"`
	Entities   []string `yaml:"entities"`
}

// Render formats the facts as a prompt block. An empty Facts renders to "".
func (f Facts) Render() string {
	if len(f.Highlights) == 0 && len(f.Trends) == 0 && len(f.Entities) == 0 {
		return ""
	}

	var b strings.Builder
	if f.Period != "" {
		fmt.Fprintf(&b, "【%s 行业速览 / Industry snapshot】\n", f.Period)
	} else {
		b.WriteString("【行业速览 / Industry snapshot】\n")
	}
	writeSection(&b, "融资亮点 / Funding highlights", f.Highlights)
	writeSection(&b, "趋势 / Trends", f.Trends)
	writeSection(&b, "关注机构与公司 / Entities to watch", f.Entities)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// Library serves the current persona and facts to the orchestrator. The
// facts file is optional: without one the library stays persona-only.
type Library struct {
	persona   string
	factsPath string

	mu    sync.RWMutex
	facts Facts
}

// NewLibrary constructs a prompt library. An empty persona falls back to
// DefaultPersona; an empty factsPath disables the freshness block.
func NewLibrary(persona, factsPath string) (*Library, error) {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}

	lib := &Library{
		persona:   persona,
		factsPath: factsPath,
	}

	if factsPath != "" {
		if err := lib.reload(); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// SystemPrompt returns the enriched system prompt from the current state.
func (l *Library) SystemPrompt() string {
	l.mu.RLock()
	facts := l.facts
	l.mu.RUnlock()

	return BuildSystemPrompt(l.persona, facts.Render())
}

func (l *Library) reload() error {
	data, err := os.ReadFile(l.factsPath)
	if err != nil {
		return fmt.Errorf("read facts file %q: %w", l.factsPath, err)
	}

	var facts Facts
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return fmt.Errorf("parse facts file %q: %w", l.factsPath, err)
	}

	l.mu.Lock()
	l.facts = facts
	l.mu.Unlock()
	return nil
}

// Watch follows the facts file and reloads it when an external job rewrites
// it. Watching the directory is more reliable than watching the file, since
// sync jobs tend to replace it atomically. Watch returns immediately when no
// facts file is configured; otherwise it blocks until the context ends.
func (l *Library) Watch(ctx context.Context) {
	if l.factsPath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("facts watcher unavailable, facts stay static", "err", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(l.factsPath)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("watch facts directory failed, facts stay static", "dir", dir, "err", err)
		return
	}

	target := filepath.Clean(l.factsPath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.reload(); err != nil {
				slog.Warn("facts reload failed, keeping previous facts", "err", err)
				continue
			}
			slog.Info("freshness facts reloaded", "path", l.factsPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("facts watcher error", "err", err)
		}
	}
}
