// Package cartfile persists carts as one JSON file per user, the server-side
// analog of the frontend's local-storage cart. Carts survive sign-out and
// process restarts.
package cartfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/helixlife/portal-bff-go/internal/domain"
)

// Store is a file-backed cart store.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the backing directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cart dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load reads a user's cart. A missing file is an empty cart, not an error.
func (s *Store) Load(userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.Cart{Items: []domain.CartItem{}}, nil
		}
		return nil, fmt.Errorf("read cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

// Save writes a user's cart atomically (write temp, rename).
func (s *Store) Save(userID string, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cart, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	tmp := s.path(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cart: %w", err)
	}
	return os.Rename(tmp, s.path(userID))
}

func (s *Store) path(userID string) string {
	// User ids come from the gateway (UUIDs), but never trust them as paths.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, userID)
	return filepath.Join(s.dir, safe+".json")
}
