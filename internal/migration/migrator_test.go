// AngelaMos | 2026
// migrator_test.go

package migration

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreOrderedPairs(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	var versions []uint
	v, err := src.First()
	for err == nil {
		versions = append(versions, v)

		up, _, upErr := src.ReadUp(v)
		require.NoError(t, upErr, "version %d has an up file", v)
		_ = up.Close()

		down, _, downErr := src.ReadDown(v)
		require.NoError(t, downErr, "version %d has a down file", v)
		_ = down.Close()

		v, err = src.Next(v)
	}
	require.True(t, errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist))

	assert.Equal(t, []uint{1, 2}, versions)
}

func TestLedgerSchemaGuardsBalance(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	r, _, err := src.ReadUp(1)
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)

	sql := string(body)
	assert.True(t, strings.Contains(sql, "email            TEXT PRIMARY KEY"))
	assert.True(t, strings.Contains(sql, "CHECK (generations_left >= 0)"))
}
