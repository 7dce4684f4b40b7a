package system

import (
	"errors"
	"fmt"
	"sync"
)

type cleanupEntry struct {
	name string
	fn   func() error
}

// CleanupStack runs registered undo steps in reverse order (LIFO) when an
// operation fails part way
type CleanupStack struct {
	cleanups []cleanupEntry
	mu       sync.Mutex
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{
		cleanups: make([]cleanupEntry, 0),
	}
}

// Add pushes a named cleanup function
func (s *CleanupStack) Add(name string, cleanup func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanupEntry{name: name, fn: cleanup})
}

// Len returns the number of pending cleanups
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}

// Execute runs and removes all cleanup functions, newest first. Every
// function runs even if an earlier one fails.
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cleanups[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes all cleanup functions (call on success to prevent cleanup)
func (s *CleanupStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = nil
}
