package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/goice/stun"
)

// TestRoleConflictHigherTieBreakerWins implements RFC 8445 §7.3.1.1: a
// controlling agent receiving a controlling peer's check replies 487 only
// if its own tie-breaker is the larger of the two, and otherwise switches
// to controlled instead.
func TestRoleConflictHigherTieBreakerWins(t *testing.T) {
	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	a := NewAgent(Controlling, cm, txns)
	a.tieBreaker = 100

	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	req.SetIceControlling(200)

	resp := a.resolveRoleConflict(req)
	require.Nil(t, resp, "agent with the smaller tie-breaker must switch role, not reject")
	assert.Equal(t, Controlled, a.Role())
}

func TestRoleConflictLowerTieBreakerRejects(t *testing.T) {
	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	a := NewAgent(Controlling, cm, txns)
	a.tieBreaker = 200

	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	req.SetIceControlling(100)

	resp := a.resolveRoleConflict(req)
	require.NotNil(t, resp)
	ec, ok := resp.GetErrorCode()
	require.True(t, ok)
	assert.Equal(t, 487, ec.Code)
	assert.Equal(t, Controlling, a.Role(), "role must not change when this agent keeps control")
}

func TestAgentRegistersCredentialsAuthority(t *testing.T) {
	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	a := NewAgent(Controlled, cm, txns)

	ufrag, pwd := a.LocalCredentials()
	key, ok := cm.Key(ufrag)
	require.True(t, ok)
	assert.Equal(t, pwd, key)
}

func TestAgentRestartRotatesCredentials(t *testing.T) {
	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	a := NewAgent(Controlling, cm, txns)

	oldUfrag, _ := a.LocalCredentials()
	newUfrag, newPwd := a.Restart()

	assert.NotEqual(t, oldUfrag, newUfrag)
	_, stillRegistered := cm.Key(oldUfrag)
	assert.False(t, stillRegistered)

	key, ok := cm.Key(newUfrag)
	require.True(t, ok)
	assert.Equal(t, newPwd, key)
}
