package apps

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/crossfield/ssobroker/pkg/observability"
)

// registryFile is the on-disk shape of the registry.
type registryFile struct {
	Applications []Application `yaml:"applications"`
}

// Registry holds the set of registered applications, loaded from a YAML
// file and optionally reloaded when the file changes.
type Registry struct {
	mu     sync.RWMutex
	path   string
	byKey  map[string]*Application
	logger *observability.Logger
}

// NewRegistry loads the registry from path.
func NewRegistry(path string, logger *observability.Logger) (*Registry, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds a registry from an in-memory list, for tests and
// embedded use.
func NewStaticRegistry(applications []Application) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[string]*Application, len(applications)),
		logger: observability.NewLogger(observability.InfoLevel, nil),
	}
	for i := range applications {
		app := applications[i]
		if err := validate(&app); err != nil {
			return nil, err
		}
		if _, dup := r.byKey[app.Key]; dup {
			return nil, fmt.Errorf("duplicate application key %q", app.Key)
		}
		r.byKey[app.Key] = &app
	}
	return r, nil
}

// Reload re-reads the registry file. On parse or validation errors the
// previously loaded set stays in effect.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read application registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse application registry: %w", err)
	}

	byKey := make(map[string]*Application, len(file.Applications))
	for i := range file.Applications {
		app := file.Applications[i]
		if err := validate(&app); err != nil {
			return err
		}
		if _, dup := byKey[app.Key]; dup {
			return fmt.Errorf("duplicate application key %q", app.Key)
		}
		byKey[app.Key] = &app
	}

	r.mu.Lock()
	r.byKey = byKey
	r.mu.Unlock()

	r.logger.WithField("applications", len(byKey)).Info("application registry loaded")
	return nil
}

func validate(app *Application) error {
	if app.Key == "" {
		return fmt.Errorf("application with empty key")
	}
	if app.Key == "global" || app.Key == "@" {
		return fmt.Errorf("application key %q is reserved", app.Key)
	}
	return nil
}

// Get returns the application with the given key.
func (r *Registry) Get(key string) (*Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.byKey[key]
	return app, ok
}

// All returns every registered application sorted by key.
func (r *Registry) All() []*Application {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Application, 0, len(r.byKey))
	for _, app := range r.byKey {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Watch reloads the registry whenever its file is rewritten, until the
// context is canceled. A bad intermediate write is logged and skipped; the
// last good registry stays live.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch registry file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.WithError(err).Error("failed to reload application registry")
				}
				// Editors often replace the file; re-add to keep watching
				// the new inode.
				watcher.Add(r.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.WithError(err).Error("registry watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
