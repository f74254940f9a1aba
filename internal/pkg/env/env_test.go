package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"PORTAL_TEST_KEY": "from-map"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PORTAL_TEST_KEY", "from-os")

	assert.Equal(t, "from-map", GetEnv("PORTAL_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("PORTAL_TEST_MISSING", "def"))
}

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{"N": "7", "BAD": "seven"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetEnvInt("N", 1))
	assert.Equal(t, 1, GetEnvInt("BAD", 1))
	assert.Equal(t, 3, GetEnvInt("MISSING", 3))
}

func TestGetEnvSeconds(t *testing.T) {
	Env = map[string]string{"T": "20", "ZERO": "0"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 20*time.Second, GetEnvSeconds("T", time.Second))
	assert.Equal(t, time.Second, GetEnvSeconds("ZERO", time.Second))
}
