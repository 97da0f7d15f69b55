package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/config"
	"github.com/otherjamesbrown/meetmem/credentials"
)

func TestNewAuthCommand(t *testing.T) {
	cmd := NewAuthCommand(nil)
	require.NotNil(t, cmd)

	subcommands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}
	assert.True(t, subcommands["set"])
	assert.True(t, subcommands["delete"])
	assert.True(t, subcommands["list"])
}

func TestAuthSet_List_Delete(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, NewAuthCommand(env.deps), "set", "openai", "--value", "sk-test-1234567890abcdef")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored openai secret")
	assert.NotContains(t, out, "sk-test-1234567890abcdef")
	assert.Contains(t, out, "credentials.yaml")

	env.format = config.OutputFormatJSON
	out, err = execute(t, NewAuthCommand(env.deps), "list")
	require.NoError(t, err)

	var statuses []authStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	bySource := make(map[string]string)
	for _, st := range statuses {
		bySource[st.Provider] = st.Source
	}
	assert.Equal(t, "store", bySource[credentials.ProviderOpenAI])
	assert.Equal(t, "none", bySource[credentials.ProviderHuggingFace])

	env.format = config.OutputFormatText
	out, err = execute(t, NewAuthCommand(env.deps), "delete", "openai")
	require.NoError(t, err)
	assert.Equal(t, "Removed stored openai secret\n", out)

	store, err := credentials.NewStore()
	require.NoError(t, err)
	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuthSet_FromStdin(t *testing.T) {
	env := newTestEnv(t)

	cmd := NewAuthCommand(env.deps)
	cmd.SetIn(strings.NewReader("hf_abcdefghijklmnop\n"))
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"set", "huggingface"})
	require.NoError(t, cmd.Execute())

	store, err := credentials.NewStore()
	require.NoError(t, err)
	secret, err := store.Get(credentials.ProviderHuggingFace)
	require.NoError(t, err)
	assert.Equal(t, "hf_abcdefghijklmnop", secret)
}

func TestAuthSet_EnvOverrideNote(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-env-0000000000")

	out, err := execute(t, NewAuthCommand(env.deps), "set", "openai", "--value", "sk-stored-111111111111")
	require.NoError(t, err)
	assert.Contains(t, out, "Note: OPENAI_API_KEY is set")
}

func TestAuthSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown provider", []string{"set", "anthropic", "--value", "x"}, "unknown provider"},
		{"empty stdin", []string{"set", "openai"}, "no secret provided"},
		{"missing provider", []string{"set"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := execute(t, NewAuthCommand(env.deps), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthStatuses(t *testing.T) {
	for _, env := range credentials.ProviderEnv {
		t.Setenv(env, "")
	}
	t.Setenv("HUGGINGFACE_TOKEN", "hf_envtoken_123456")
	updated := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	statuses := authStatuses([]credentials.Entry{
		{Provider: credentials.ProviderOpenAI, Masked: "sk-t...cdef", UpdatedAt: updated},
		{Provider: credentials.ProviderHuggingFace, Masked: "hf_s...ored", UpdatedAt: updated},
	})
	require.Len(t, statuses, len(credentials.ProviderEnv))

	for _, st := range statuses {
		switch st.Provider {
		case credentials.ProviderOpenAI:
			assert.Equal(t, "store", st.Source)
			require.NotNil(t, st.UpdatedAt)
			assert.Equal(t, updated, *st.UpdatedAt)
		case credentials.ProviderHuggingFace:
			assert.Equal(t, "env", st.Source)
			assert.Nil(t, st.UpdatedAt)
			assert.Equal(t, credentials.MaskCredential("hf_envtoken_123456"), st.Masked)
		}
	}
}

func TestSession_SecretPrefersEnvironment(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, NewAuthCommand(env.deps), "set", "openai", "--value", "sk-stored-111111111111")
	require.NoError(t, err)

	s, err := env.deps.open(overrides{})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sk-stored-111111111111", s.secret(credentials.ProviderOpenAI))
	assert.Empty(t, s.secret(credentials.ProviderHuggingFace))

	t.Setenv("OPENAI_API_KEY", "sk-from-env-0000000000")
	assert.Equal(t, "sk-from-env-0000000000", s.secret(credentials.ProviderOpenAI))
}
