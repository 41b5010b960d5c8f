package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddSearchPathToConnString(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@localhost:5432/test?search_path=s1",
		AddSearchPathToConnString("postgres://u:p@localhost:5432/test", "s1"))
	assert.Equal(t,
		"postgres://u:p@localhost:5432/test?sslmode=disable&search_path=s1",
		AddSearchPathToConnString("postgres://u:p@localhost:5432/test?sslmode=disable", "s1"))
}

func TestGenerateSchemaName(t *testing.T) {
	name := GenerateSchemaName(t)

	assert.True(t, strings.HasPrefix(name, "test_testgenerateschemaname_"), name)
	assert.LessOrEqual(t, len(name), 63)
	assert.NotEqual(t, name, GenerateSchemaName(t))
	for _, r := range name {
		assert.True(t, (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_', "unexpected rune %q", r)
	}
}
