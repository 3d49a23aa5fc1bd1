package netx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.1.2.3:8089":  false,
		"example.com:80": false,
		"no-port":        false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, IsLoopbackAddr(addr), addr)
	}
}
