package debugger

import (
	"path/filepath"
	"sync"
)

// Module tracks one loaded module. IDs are assigned in observation order and
// never reused.
type Module struct {
	ID       int
	Filename string
}

type moduleEntry struct {
	codeFilename string
	mod          *Module
}

// moduleTable is the ordered list of (code-filename, module) pairs the
// process has seen. Records are never removed.
type moduleTable struct {
	mu      sync.Mutex
	nextID  int
	entries []moduleEntry
}

func newModuleTable() *moduleTable {
	return &moduleTable{}
}

// observe records a module frame's code filename, allocating the next id.
func (m *moduleTable) observe(codeFilename string) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()

	mod := &Module{
		ID:       m.nextID,
		Filename: canonicalPath(codeFilename),
	}
	m.nextID++
	m.entries = append(m.entries, moduleEntry{codeFilename: codeFilename, mod: mod})
	return mod
}

func (m *moduleTable) empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) == 0
}

func (m *moduleTable) snapshot() []moduleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]moduleEntry, len(m.entries))
	copy(entries, m.entries)
	return entries
}

// canonicalPath normalizes a filename to its absolute form. Both breakpoint
// registration and hot-path matching normalize through here so the two sites
// cannot disagree.
func canonicalPath(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return abs
}
