package crawler

import "sync"

// Frontier is the FIFO work queue of a single run. A URL is pending from the
// moment it is enqueued until it is marked visited or requeued, so a URL that
// is currently being fetched cannot be scheduled a second time.
type Frontier struct {
	mu       sync.Mutex
	queue    []string
	head     int
	pending  map[string]struct{}
	visited  map[string]struct{}
	attempts map[string]int
}

func NewFrontier() *Frontier {
	return &Frontier{
		pending:  make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		attempts: make(map[string]int),
	}
}

// Enqueue appends url unless it is already visited or pending. It reports
// whether the URL was added.
func (f *Frontier) Enqueue(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.visited[url]; ok {
		return false
	}
	if _, ok := f.pending[url]; ok {
		return false
	}
	f.pending[url] = struct{}{}
	f.queue = append(f.queue, url)
	return true
}

// Dequeue removes and returns the head of the queue.
func (f *Frontier) Dequeue() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head == len(f.queue) {
		return "", false
	}
	url := f.queue[f.head]
	f.queue[f.head] = ""
	f.head++
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]string(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return url, true
}

// Requeue re-inserts url at the tail and bumps its attempt count. It does
// not check the pending set.
func (f *Frontier) Requeue(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[url]++
	f.pending[url] = struct{}{}
	f.queue = append(f.queue, url)
	return f.attempts[url]
}

// MarkVisited records url as terminally handled.
func (f *Frontier) MarkVisited(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.pending, url)
	f.visited[url] = struct{}{}
}

func (f *Frontier) IsVisited(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[url]
	return ok
}

// AttemptCount returns how many times url has been requeued.
func (f *Frontier) AttemptCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Len is the number of queued URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// Queued returns the URLs still waiting in the queue, head first.
func (f *Frontier) Queued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queue[f.head:]...)
}
