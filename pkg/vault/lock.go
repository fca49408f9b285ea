package vault

import "sync"

// pathLocks serializes mutations per envelope path within one process, so
// two concurrent pushes against the same vault file cannot interleave.
// Cross-process exclusion is handled by the advisory file lock.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.m == nil {
		p.m = make(map[string]*sync.Mutex)
	}
	l, ok := p.m[path]
	if !ok {
		l = &sync.Mutex{}
		p.m[path] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
