package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvironment_PrefersSqitchVars(t *testing.T) {
	t.Setenv("SQITCH_USER_NAME", "Ada Lovelace")
	t.Setenv("USER", "ada")
	t.Setenv("SQITCH_USER_EMAIL", "ada@example.com")
	t.Setenv("EMAIL", "fallback@example.com")

	id := FromEnvironment()
	assert.Equal(t, "Ada Lovelace", id.Name)
	assert.Equal(t, "ada@example.com", id.Email)
}

func TestFromEnvironment_FallsBackWhenSqitchVarsUnset(t *testing.T) {
	t.Setenv("SQITCH_USER_NAME", "")
	t.Setenv("USER", "ada")
	t.Setenv("SQITCH_USER_EMAIL", "")
	t.Setenv("EMAIL", "ada@example.com")

	id := FromEnvironment()
	assert.Equal(t, "ada", id.Name)
	assert.Equal(t, "ada@example.com", id.Email)
}

func TestNewRunID_IsUnique(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}
