package photo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestS3KeyFor(t *testing.T) {
	s := &s3Store{bucket: "refinery-photos", baseURL: "https://cdn.example.com/photos"}

	tests := []struct {
		name    string
		ref     string
		wantKey string
		ok      bool
	}{
		{"inside bucket", "https://cdn.example.com/photos/rec-1/a.jpg", "rec-1/a.jpg", true},
		{"foreign host", "https://evil.example.com/photos/rec-1/a.jpg", "", false},
		{"bare prefix", "https://cdn.example.com/photos/", "", false},
		{"path traversal", "https://cdn.example.com/photos/../secrets", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := s.keyFor(tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.ok, s.Trusted(tt.ref))
		})
	}
}

func TestMemoryStoreTrusted(t *testing.T) {
	m := NewMemoryStore()
	assert.True(t, m.Trusted("memory://photos/rec-1/a.jpg"))
	assert.False(t, m.Trusted("https://cdn.example.com/photos/rec-1/a.jpg"))
}
