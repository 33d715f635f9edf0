package migrate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEnsureSQLiteSchemaIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, EnsureSQLiteSchema(ctx, conn))
	require.NoError(t, EnsureSQLiteSchema(ctx, conn))

	var plans int64
	require.NoError(t, conn.Table("billing_plans").Count(&plans).Error)
	require.Equal(t, int64(3), plans)
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (id text);\n\nCREATE TABLE b (id text);\n")
	require.Len(t, stmts, 2)
	require.Equal(t, "CREATE TABLE a (id text)", stmts[0])
}
