package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestGetPrefersEnvironment(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: KeyMailboxPassword, Data: []byte("from-keyring")},
	})
	s := NewStore(ring, env(map[string]string{"QUICKANS_MAILBOX_PASSWORD": "from-env"}))

	v, err := s.Get(KeyMailboxPassword)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestGetProviderEnvironment(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil), env(map[string]string{"GEMINI_API_KEY": "g-key"}))

	v, err := s.Get(LLMKey("gemini"))
	require.NoError(t, err)
	assert.Equal(t, "g-key", v)
}

func TestSetGetDelete(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil), nil)

	require.NoError(t, s.Set(KeyOpenAI, "sk-test"))
	v, err := s.Get(KeyOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	require.NoError(t, s.Delete(KeyOpenAI))
	_, err = s.Get(KeyOpenAI)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil), nil)

	_, err := s.Get(KeyAnthropic)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "QUICKANS_ANTHROPIC_API_KEY")
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, KeyOpenAI, LLMKey("openai"))
	assert.Equal(t, KeyAnthropic, LLMKey("anthropic"))
	assert.Equal(t, "QUICKANS_GEMINI_API_KEY", EnvName(KeyGemini))
}
