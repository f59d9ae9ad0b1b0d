package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRAGSchemaRejectsInvalidDimension(t *testing.T) {
	err := EnsureRAGSchema(context.Background(), nil, 0)
	require.Error(t, err)
}

func TestSchemaStatementsUseDimension(t *testing.T) {
	stmts := schemaStatements(768)
	var found bool
	for _, stmt := range stmts {
		if strings.Contains(stmt, "VECTOR(768)") {
			found = true
		}
	}
	assert.True(t, found, "chunk table should declare the embedding dimension")
}
