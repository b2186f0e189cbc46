package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierOff(t *testing.T) {
	v := NewVerifier("", "")
	p, err := v.FromHeader("")
	require.NoError(t, err)
	assert.True(t, p.CanSolve())
}

func TestVerifierDev(t *testing.T) {
	v := NewVerifier(ModeDev, "")
	p, err := v.FromHeader("Bearer alice:Solver")
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "alice", Role: RoleSolver}, p)

	_, err = v.FromHeader("Bearer alice")
	require.ErrorIs(t, err, ErrBadToken)
	_, err = v.FromHeader("")
	require.ErrorIs(t, err, ErrNoToken)
}

func TestVerifierHMAC(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier(ModeHMAC, string(secret))

	p, err := v.FromHeader("Bearer " + SignHS256(secret, "bob", "viewer", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Subject)
	assert.False(t, p.CanSolve())

	_, err = v.Verify(SignHS256([]byte("other"), "bob", "admin", 0))
	require.ErrorIs(t, err, ErrBadToken)

	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = v.Verify(SignHS256(secret, "bob", "admin", time.Hour))
	require.ErrorIs(t, err, ErrExpired)

	_, err = v.Verify("a.b")
	require.ErrorIs(t, err, ErrBadToken)
}
