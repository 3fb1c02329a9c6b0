package timeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeForRestrictsClientsOnly(t *testing.T) {
	require.Equal(t, ScopePublic, ScopeFor(RoleClient))
	for _, role := range []Role{RoleOperator, RoleAdmin, Role("auditor"), Role("")} {
		require.Equal(t, ScopeAll, ScopeFor(role), "role %q", role)
	}
}

func TestScopeAllows(t *testing.T) {
	require.True(t, ScopePublic.Allows(VisibilityPublic))
	require.False(t, ScopePublic.Allows(VisibilityInternal))
	require.True(t, ScopeAll.Allows(VisibilityPublic))
	require.True(t, ScopeAll.Allows(VisibilityInternal))
}

func TestParseScope(t *testing.T) {
	scope, err := ParseScope(" PUBLIC ")
	require.NoError(t, err)
	require.Equal(t, ScopePublic, scope)

	scope, err = ParseScope("")
	require.NoError(t, err)
	require.Equal(t, ScopeAll, scope)

	_, err = ParseScope("secret")
	require.ErrorIs(t, err, ErrValidation)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("Client")
	require.NoError(t, err)
	require.Equal(t, RoleClient, role)

	_, err = ParseRole("  ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestErrorMatchesKindAndUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &Error{Kind: ErrNetwork, Op: "list", Err: cause}

	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, "list: network failure: dial tcp: refused", err.Error())
}

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	require.True(t, IsTempID(id))
	require.False(t, IsTempID("e1"))
	require.NotEqual(t, id, NewTempID())
}
