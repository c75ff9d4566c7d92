package soundkit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ManifestFile is the kit manifest file name.
const ManifestFile = "kit.json"

// ErrKitNotFound is returned when a requested kit cannot be found.
var ErrKitNotFound = errors.New("kit not found")

// Manager manages kit discovery and access.
type Manager struct {
	kitsDir string
	kits    map[string]*Kit
	mu      sync.RWMutex
}

// NewManager creates a new kit Manager with the given kits directory.
func NewManager(kitsDir string) *Manager {
	return &Manager{
		kitsDir: kitsDir,
		kits:    make(map[string]*Kit),
	}
}

// Discover scans the kits directory for kit.json files and loads them.
// Each subdirectory is expected to be a kit. Unreadable or invalid
// manifests are skipped.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kits = make(map[string]*Kit)

	info, err := os.Stat(m.kitsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.kitsDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		kitPath := filepath.Join(m.kitsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(kitPath, ManifestFile))
		if err != nil {
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			continue
		}
		if manifest.Name == "" {
			manifest.Name = entry.Name()
		}
		if len(manifest.Player) == 0 && manifest.Executable == "" {
			continue
		}

		kit := &Kit{
			Manifest: manifest,
			Path:     kitPath,
		}
		if manifest.Executable != "" {
			kit.Executable = resolve(kitPath, manifest.Executable)
		}
		m.kits[manifest.Name] = kit
	}

	return nil
}

// Get returns a kit by name.
// Returns ErrKitNotFound if the kit does not exist.
func (m *Manager) Get(name string) (*Kit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kit, ok := m.kits[name]
	if !ok {
		return nil, ErrKitNotFound
	}
	return kit, nil
}

// List returns all discovered kits sorted by name.
func (m *Manager) List() []*Kit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kits := make([]*Kit, 0, len(m.kits))
	for _, kit := range m.kits {
		kits = append(kits, kit)
	}
	sort.Slice(kits, func(i, j int) bool { return kits[i].Manifest.Name < kits[j].Manifest.Name })
	return kits
}

// KitsDir returns the kits directory path.
func (m *Manager) KitsDir() string {
	return m.kitsDir
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
