package crawler

import "sync"

// sizeAccumulator maps directory paths to the running total of descendant
// file sizes. It is shared by all root walkers of one crawl.
type sizeAccumulator struct {
	mu    sync.Mutex
	sizes map[string]uint64
}

func newSizeAccumulator() *sizeAccumulator {
	return &sizeAccumulator{sizes: make(map[string]uint64)}
}

// addAll adds n to every directory in dirs.
func (a *sizeAccumulator) addAll(dirs []string, n uint64) {
	if n == 0 || len(dirs) == 0 {
		return
	}
	a.mu.Lock()
	for _, d := range dirs {
		a.sizes[d] += n
	}
	a.mu.Unlock()
}

// take returns the final total for dir and forgets it. Call it only after
// the whole subtree of dir has been visited.
func (a *sizeAccumulator) take(dir string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.sizes[dir]
	delete(a.sizes, dir)
	return n
}

func (a *sizeAccumulator) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sizes)
}
