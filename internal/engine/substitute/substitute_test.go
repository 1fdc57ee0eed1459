package substitute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply_ColonStyle(t *testing.T) {
	got := Apply("CREATE SCHEMA :registry;", map[string]string{"registry": "sqitch"}, Colon)
	assert.Equal(t, "CREATE SCHEMA sqitch;", got)
}

func TestApply_AmpersandStyle(t *testing.T) {
	got := Apply("USE WAREHOUSE &warehouse;", map[string]string{"warehouse": "COMPUTE_WH"}, Ampersand)
	assert.Equal(t, "USE WAREHOUSE COMPUTE_WH;", got)
}

func TestApply_UnresolvedTokenLeftVerbatim(t *testing.T) {
	got := Apply("SELECT :missing;", map[string]string{}, Colon)
	assert.Equal(t, "SELECT :missing;", got)
}

func TestApply_NoVarsIsNoop(t *testing.T) {
	got := Apply("SELECT :x;", nil, Colon)
	assert.Equal(t, "SELECT :x;", got)
}

func TestApply_BarePrefixUntouched(t *testing.T) {
	got := Apply("a ::= b", map[string]string{"x": "y"}, Colon)
	assert.Equal(t, "a ::= b", got)
}

func TestApply_MultipleOccurrences(t *testing.T) {
	got := Apply(":a :a :b", map[string]string{"a": "1", "b": "2"}, Colon)
	assert.Equal(t, "1 1 2", got)
}

func TestApply_WrongStylePrefixIgnored(t *testing.T) {
	got := Apply("&registry", map[string]string{"registry": "sqitch"}, Colon)
	assert.Equal(t, "&registry", got)
}
