package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrWorkspace = errors.New("workspace failure")
	// ErrInvalidName marks a file name supplied by the caller that cannot
	// be placed inside a workspace. It is not an engine fault.
	ErrInvalidName = errors.New("invalid file name")
)

// Workspace is a scratch directory owned by exactly one submission.
type Workspace struct {
	ID   string
	Path string

	once sync.Once
	err  error
}

type Manager struct {
	root   string
	logger *zerolog.Logger
}

func NewManager(root string, logger *zerolog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root %q: %v", ErrWorkspace, root, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", ErrWorkspace, err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, empty directory. Mkdir fails on an existing name,
// so two submissions can never end up sharing one.
func (m *Manager) Acquire() (*Workspace, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(m.root, id)
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrWorkspace, id, err)
	}
	m.logger.Debug().Str("workspace", id).Msg("workspace acquired")
	return &Workspace{ID: id, Path: path}, nil
}

// Materialize writes content to name inside ws. Names may contain
// subdirectories but must stay inside the workspace.
func (m *Manager) Materialize(ws *Workspace, name, content string) error {
	target, err := resolve(ws, name)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(target); dir != ws.Path {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("%w: create directory for %s: %v", ErrWorkspace, name, err)
		}
	}
	if err := os.WriteFile(target, []byte(content), 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrWorkspace, name, err)
	}
	return nil
}

// ValidateName checks that name is relative and stays inside a workspace.
func ValidateName(name string) error {
	if name == "" || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes workspace", ErrInvalidName, name)
	}
	return nil
}

func resolve(ws *Workspace, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(ws.Path, filepath.Clean(name)), nil
}

// Release removes the workspace and everything in it. Only the first call
// does any work; later calls return the same result.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	ws.once.Do(func() {
		// Programs may leave read-only directories behind; make them writable
		// so RemoveAll can descend.
		_ = filepath.WalkDir(ws.Path, func(path string, d os.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				_ = os.Chmod(path, 0o700)
			}
			return nil
		})
		if err := os.RemoveAll(ws.Path); err != nil {
			ws.err = fmt.Errorf("%w: remove %s: %v", ErrWorkspace, ws.ID, err)
			return
		}
		m.logger.Debug().Str("workspace", ws.ID).Msg("workspace released")
	})
	return ws.err
}

// Sweep deletes every leftover entry under the root, typically workspaces
// orphaned by a crash. It must only run while no submission is in flight.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("%w: read root: %v", ErrWorkspace, err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Warn().Int("count", removed).Str("root", m.root).Msg("removed stale workspaces")
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: sweep: %v", ErrWorkspace, errors.Join(errs...))
	}
	return removed, nil
}
