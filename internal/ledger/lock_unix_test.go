//go:build unix

package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLedgerLockExcludesSecondOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answered.txt")

	first, err := OpenFile(path, Options{NoWait: true})
	require.NoError(t, err)

	_, err = OpenFile(path, Options{NoWait: true})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	second, err := OpenFile(path, Options{NoWait: true})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
