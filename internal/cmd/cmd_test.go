package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticohq/portico/internal/store"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	expected := []string{
		"version",
		"serve",
		"usage",
		"token",
		"seed",
	}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestRootCommand_HelpOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "scoped AI copilot")
	assert.Contains(t, output, "version")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "usage")
}

func TestVersionVars_HaveDefaults(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "none", Commit)
	assert.Equal(t, "unknown", BuildDate)
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	tests := []struct {
		name     string
		flagName string
	}{
		{"config flag", "config"},
		{"verbose flag", "verbose"},
		{"log-level flag", "log-level"},
		{"log-format flag", "log-format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.flagName)
			assert.NotNil(t, flag, "flag %q should be registered", tt.flagName)
		})
	}
}

func TestSeedDemo(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, seedDemo(ctx, db))

	tenantID, tier, err := db.SubjectTenant(ctx, "demo-client")
	require.NoError(t, err)
	assert.Equal(t, "demo", tenantID)
	assert.Equal(t, "standard", tier)

	grants, err := db.GrantsFor(ctx, "demo-client")
	require.NoError(t, err)
	require.Contains(t, grants, "proj-website")
	assert.NotContains(t, grants, "proj-internal", "non-client-visible project must not be granted")

	tasks, err := db.RecentTasks(ctx, []string{"proj-website"}, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 2, "hidden task must not surface")

	msgs, err := db.RecentMessages(ctx, "demo-client", []string{"proj-website"}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Body, "price sensitive")

	// Seeding twice fails on primary keys rather than duplicating rows.
	assert.Error(t, seedDemo(ctx, db))
}
