package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	assert.Equal(t, "lock:project:p1", (&Client{}).key("lock", "project:p1"))
	assert.Equal(t, "bondvault:ratelimit:1.2.3.4", (&Client{prefix: "bondvault"}).key("ratelimit", "1.2.3.4"))
	assert.Equal(t, "bondvault:replay:0xab:ff00", (&Client{prefix: "bondvault"}).key("replay", "0xab:ff00"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("bond:events:*"))
	assert.False(t, hasPattern("bond:events:p1"))
}

func TestSignalBusDefaultMaxLen(t *testing.T) {
	sb := NewSignalBus(&Client{}, 0)
	assert.Equal(t, DefaultStreamMaxLen, sb.maxLen)
	assert.Equal(t, int64(500), NewSignalBus(&Client{}, 500).maxLen)
}
