package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()
	flags := cmd.Flags()

	assert.NotNil(t, flags.Lookup("listen-addr"))
	assert.NotNil(t, flags.Lookup("rancher-url"))
	assert.NotNil(t, flags.Lookup("rancher-token"))
	assert.NotNil(t, flags.Lookup("rancher-cluster-id"))
	assert.NotNil(t, flags.Lookup("hostname-prefix"))
	assert.NotNil(t, flags.Lookup("rate-limit"))
	assert.NotNil(t, flags.Lookup("provision-timeout"))
	assert.NotNil(t, flags.Lookup("drain-timeout"))
	assert.NotNil(t, flags.Lookup("delete-timeout"))
	assert.NotNil(t, flags.Lookup("lock-wait"))
	assert.NotNil(t, flags.Lookup("log-level"))
	assert.NotNil(t, flags.Lookup("log-format"))
	assert.NotNil(t, flags.Lookup("development"))
	assert.NotNil(t, flags.Lookup("audit"))
	assert.NotNil(t, flags.Lookup("version"))
}

func TestNewRootCommand_FlagDefaults(t *testing.T) {
	cmd := newRootCommand()
	flags := cmd.Flags()

	listenFlag := flags.Lookup("listen-addr")
	require.NotNil(t, listenFlag)
	assert.Equal(t, ":8080", listenFlag.DefValue)

	rateFlag := flags.Lookup("rate-limit")
	require.NotNil(t, rateFlag)
	assert.Equal(t, "100", rateFlag.DefValue)

	lockWaitFlag := flags.Lookup("lock-wait")
	require.NotNil(t, lockWaitFlag)
	assert.Equal(t, "5s", lockWaitFlag.DefValue)

	logLevelFlag := flags.Lookup("log-level")
	require.NotNil(t, logLevelFlag)
	assert.Equal(t, "info", logLevelFlag.DefValue)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLUSTERMAN_RANCHER_URL", "https://rancher.env.example.com")
	t.Setenv("CLUSTERMAN_RANCHER_TOKEN", "env-token")

	cmd, opts := newRootCommandWithOptions()
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, "https://rancher.env.example.com", opts.RancherURL)
	assert.Equal(t, "env-token", opts.RancherToken)
}

func TestFlagsBeatEnv(t *testing.T) {
	t.Setenv("CLUSTERMAN_RANCHER_URL", "https://rancher.env.example.com")

	cmd, opts := newRootCommandWithOptions()
	require.NoError(t, cmd.ParseFlags([]string{"--rancher-url", "https://rancher.flag.example.com"}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, "https://rancher.flag.example.com", opts.RancherURL)
}

func TestVersionFlag(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--version"})
	assert.NoError(t, cmd.Execute())
}
