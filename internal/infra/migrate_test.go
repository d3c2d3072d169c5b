package infra

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"roam/migrations"
)

func TestSplitSQL(t *testing.T) {
	in := `-- header
CREATE TABLE a (id INT);

    -- indented comment
CREATE INDEX i ON a(id);
`
	stmts := SplitSQL(StripSQLComments(in))
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX i ON a(id)"}, stmts)
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	content, err := readMigration("0001_init.sql")
	assert.NoError(t, err)
	stmts := SplitSQL(StripSQLComments(content))
	assert.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.False(t, strings.HasPrefix(s, "--"), s)
	}
}

func readMigration(name string) (string, error) {
	b, err := fs.ReadFile(migrations.FS, name)
	return string(b), err
}
