package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Sorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "001_schema.sql", names[0])
	for i := 1; i < len(names); i++ {
		require.Less(t, names[i-1], names[i])
	}
}
