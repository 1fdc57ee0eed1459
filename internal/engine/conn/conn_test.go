package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBind_QuestionStyle(t *testing.T) {
	q, args := bind("SELECT * FROM changes WHERE id = :id AND project = :project",
		map[string]any{"id": "abc", "project": "widgets"}, Question)
	assert.Equal(t, "SELECT * FROM changes WHERE id = ? AND project = ?", q)
	assert.Equal(t, []any{"abc", "widgets"}, args)
}

func TestBind_DollarStyle(t *testing.T) {
	q, args := bind("SELECT * FROM changes WHERE id = :id AND project = :project",
		map[string]any{"id": "abc", "project": "widgets"}, Dollar)
	assert.Equal(t, "SELECT * FROM changes WHERE id = $1 AND project = $2", q)
	assert.Equal(t, []any{"abc", "widgets"}, args)
}

func TestBind_UnknownNameLeftVerbatim(t *testing.T) {
	q, args := bind("SELECT :missing", map[string]any{"present": 1}, Question)
	assert.Equal(t, "SELECT :missing", q)
	assert.Empty(t, args)
}

func TestBind_NoParamsIsNoop(t *testing.T) {
	q, args := bind("SELECT 1", nil, Question)
	assert.Equal(t, "SELECT 1", q)
	assert.Nil(t, args)
}

func TestBind_RepeatedNameGetsNewDollarIndex(t *testing.T) {
	q, args := bind("SELECT :id, :id", map[string]any{"id": "x"}, Dollar)
	assert.Equal(t, "SELECT $1, $2", q)
	assert.Equal(t, []any{"x", "x"}, args)
}
