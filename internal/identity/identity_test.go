package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret")
	id := Identity{UserID: uuid.New(), Username: "bob", FirstName: "Bob", LastName: "Smith"}

	token, err := v.Issue(id, time.Minute)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, *got)
	assert.Equal(t, "bob", got.Profile().Username)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret")
	id := Identity{UserID: uuid.New()}

	expired, err := v.Issue(id, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewVerifier("other").Issue(id, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
