package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Cassette stores recorded request/response pairs keyed by URL plus request
// body hash. One cassette is shared between a recording run and later
// replay runs; access is safe for concurrent use.
type Cassette struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewCassette returns an empty cassette.
func NewCassette() *Cassette {
	return &Cassette{entries: map[string][]byte{}}
}

// LoadCassette reads a cassette previously written with Save.
func LoadCassette(path string) (*Cassette, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llm: load cassette %s: %w", path, err)
	}
	var entries map[string][]byte
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("llm: parse cassette %s: %w", path, err)
	}
	return &Cassette{entries: entries}, nil
}

// Save writes the cassette to disk.
func (c *Cassette) Save(path string) error {
	c.mu.RLock()
	raw, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("llm: encode cassette: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("llm: write cassette %s: %w", path, err)
	}
	return nil
}

func cassetteKey(url string, body []byte) string {
	sum := sha256.Sum256(append([]byte(url+"\n"), body...))
	return hex.EncodeToString(sum[:])
}

func (c *Cassette) store(url string, body, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cassetteKey(url, body)] = response
}

func (c *Cassette) lookup(url string, body []byte) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[cassetteKey(url, body)]
	return resp, ok
}
