// Package ids generates sortable identifiers (ULID).
package ids

import (
	"crypto/rand"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type IDGen interface {
	New() (string, error)
}

// ULID is safe for concurrent use; ids minted in the same millisecond stay ordered.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewULID() *ULID {
	return &ULID{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULID) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Seq is a deterministic generator for tests: prefix + 1, 2, 3 ...
type Seq struct {
	mu     sync.Mutex
	Prefix string
	n      int
}

func (s *Seq) New() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.Prefix + strconv.Itoa(s.n), nil
}
