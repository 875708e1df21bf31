package vm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Checksum identifies bytecode by its sha256 hash, the same checksum the chain
// reports for stored code.
type Checksum [32]byte

func (c Checksum) String() string { return hex.EncodeToString(c[:]) }

// ChecksumOf returns the checksum of code.
func ChecksumOf(code []byte) Checksum { return sha256.Sum256(code) }

// Registry maps bytecode checksums to the programs that implement them. It is
// safe for concurrent use and is shared by every scenario.
type Registry struct {
	mu       sync.RWMutex
	programs map[Checksum]Program
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[Checksum]Program)}
}

// Register binds code to program and returns the checksum.
func (r *Registry) Register(code []byte, program Program) Checksum {
	sum := ChecksumOf(code)
	r.mu.Lock()
	r.programs[sum] = program
	r.mu.Unlock()
	return sum
}

// Lookup returns the program registered for code.
func (r *Registry) Lookup(code []byte) (Program, bool) {
	sum := ChecksumOf(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[sum]
	return p, ok
}

// Len returns the number of registered programs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}
