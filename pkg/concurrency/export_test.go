package concurrency

// queueLen returns the number of goroutines blocked in Acquire.
func (m *Manager) queueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.waiters.Len()
}
