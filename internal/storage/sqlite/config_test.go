package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.NoError(t, DefaultConfig().Validate())

	assert.Equal(t, "./melody_map.db?_busy_timeout=5000", DefaultConfig().GetConnectionString())
	assert.Equal(t, "file:test.db?mode=memory&_busy_timeout=100",
		(&Config{DatabasePath: "file:test.db?mode=memory", BusyTimeoutMS: 100}).GetConnectionString())
}
