package ledger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/quickans/internal/ledger"
	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/tests/testutil"
)

func entry(q, r string) model.LedgerEntry {
	return model.LedgerEntry{QuestionID: model.QuestionID(q), RecipientID: model.RecipientID(r)}
}

func TestSQLiteLedgerRecordAndLoad(t *testing.T) {
	l := testutil.NewTestLedger(t)

	set, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, set)

	require.NoError(t, l.Record(t.Context(), entry("q1", "r1")))
	require.NoError(t, l.Record(t.Context(), entry("q2", "r1")))
	require.NoError(t, l.Record(t.Context(), entry("q1", "r1")))

	set, err = l.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ledger.Set{
		entry("q1", "r1"): {},
		entry("q2", "r1"): {},
	}, set)

	records, err := l.Entries(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.QuestionID("q1"), records[0].QuestionID)
	assert.False(t, records[0].AnsweredAt.IsZero())
}

func TestSQLiteLedgerPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := ledger.OpenSQLite(path, ledger.Options{NoWait: true})
	require.NoError(t, err)
	require.NoError(t, l.Record(t.Context(), entry("q1", "r1")))
	require.NoError(t, l.Close())

	reopened, err := ledger.Open(t.Context(), model.LedgerConfig{
		Backend: model.LedgerBackendSQLite,
		Path:    path,
	}, ledger.Options{NoWait: true})
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Load(t.Context())
	require.NoError(t, err)
	assert.True(t, reopened.Contains(entry("q1", "r1")))
	assert.False(t, reopened.Contains(entry("q1", "r2")))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := ledger.Open(t.Context(), model.LedgerConfig{Backend: "redis"}, ledger.Options{})
	require.Error(t, err)
}
