package id

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
}

func TestTypedIDsCarryPrefix(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{"request", NewRequestID().String(), RequestPrefix},
		{"subscription", NewSubscriptionID().String(), SubscriptionPrefix},
		{"window", NewWindowID().String(), WindowPrefix},
		{"tab", NewTabID().String(), TabPrefix},
		{"session", NewSessionID().String(), SessionPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, HasPrefix(tt.value, tt.prefix), tt.value)
			assert.False(t, HasPrefix(tt.value, "other"))
		})
	}
}

func TestNewToken(t *testing.T) {
	hex := regexp.MustCompile(`^[0-9a-f]{32}$`)
	a, b := NewToken(), NewToken()
	assert.Regexp(t, hex, a)
	assert.Regexp(t, hex, b)
	assert.NotEqual(t, a, b)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s := gen.GenerateWithPrefix(RequestPrefix)
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
