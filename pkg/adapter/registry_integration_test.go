package adapter_test

import (
	"testing"

	"github.com/leapstack-labs/thelook/pkg/adapter"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/thelook/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/thelook/pkg/adapters/postgres"
)

func TestSelfRegistration(t *testing.T) {
	tests := []struct {
		name  string
		roles adapter.Role
		ok    bool
	}{
		{"duckdb", adapter.RoleSource, true},
		{"postgres", adapter.RoleDestination, true},
		{"unknown_db", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, roles, ok := adapter.Lookup(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.roles, roles)
		})
	}
	assert.Contains(t, adapter.Names(adapter.RoleSource), "duckdb")
	assert.Contains(t, adapter.Names(adapter.RoleDestination), "postgres")
}

func TestNewAdapter_Success(t *testing.T) {
	tests := []struct {
		typ  string
		role adapter.Role
	}{
		{"duckdb", adapter.RoleSource},
		{"postgres", adapter.RoleDestination},
	}
	for _, tt := range tests {
		adp, err := adapter.NewAdapter(core.AdapterConfig{Type: tt.typ}, tt.role, nil)
		require.NoError(t, err, tt.typ)
		require.NotNil(t, adp, tt.typ)
		assert.Nil(t, adp.Handle(), tt.typ)
	}
}

func TestNewAdapter_UnknownType(t *testing.T) {
	_, err := adapter.NewAdapter(core.AdapterConfig{Type: "unknown_adapter"}, adapter.RoleSource, nil)

	var unknownErr *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "unknown_adapter", unknownErr.Type)
	assert.False(t, unknownErr.Registered)
	assert.Contains(t, unknownErr.Available, "duckdb")
}

func TestNewAdapter_WrongRole(t *testing.T) {
	tests := []struct {
		typ  string
		role adapter.Role
	}{
		{"postgres", adapter.RoleSource},
		{"duckdb", adapter.RoleDestination},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			_, err := adapter.NewAdapter(core.AdapterConfig{Type: tt.typ}, tt.role, nil)

			var unknownErr *adapter.UnknownAdapterError
			require.ErrorAs(t, err, &unknownErr)
			assert.True(t, unknownErr.Registered)
			assert.NotContains(t, unknownErr.Available, tt.typ)
		})
	}
}
