package versions

import (
	"testing"

	"remindme/internal/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemindersTableIsRegistered(t *testing.T) {
	defs := migrations.Definitions()
	require.NotEmpty(t, defs)
	assert.Equal(t, "001", defs[0].Version)
	assert.NotNil(t, defs[0].Migrate)
	assert.NotNil(t, defs[0].Rollback)
}
