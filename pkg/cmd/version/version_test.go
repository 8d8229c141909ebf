package version

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type stubStore struct {
	release *Release
	err     error
}

func (s stubStore) GetLatestRelease() (*Release, error) {
	return s.release, s.err
}

func withVersion(t *testing.T, v string) {
	t.Helper()
	old := Version
	Version = v
	t.Cleanup(func() { Version = old })
}

func TestIsNewer(t *testing.T) {
	assert.True(t, IsNewer("v0.4.0", "0.3.9"))
	assert.False(t, IsNewer("v0.3.0", "v0.3.0"))
	assert.False(t, IsNewer("0.2.0", "0.3.0"))
	assert.True(t, IsNewer("v0.1.0", "dev"))
	assert.False(t, IsNewer("nightly", "nightly"))
}

func TestBuildVersionStringUpToDate(t *testing.T) {
	withVersion(t, "0.3.0")
	term, _, _, _ := terminal.NewTestTerminal()

	got, err := BuildVersionString(term, stubStore{release: &Release{TagName: "v0.3.0"}})
	require.NoError(t, err)
	assert.Contains(t, got, "Current version: 0.3.0")
	assert.Contains(t, got, "up to date")
}

func TestBuildVersionStringOutOfDate(t *testing.T) {
	withVersion(t, "0.3.0")
	term, _, _, _ := terminal.NewTestTerminal()

	got, err := BuildVersionString(term, stubStore{release: &Release{
		TagName: "v0.4.0",
		Name:    "Spring release",
		Body:    "## Changes\n\n* **faster** list",
	}})
	require.NoError(t, err)
	assert.Contains(t, got, "Version: v0.4.0")
	assert.Contains(t, got, "Spring release")
	assert.Contains(t, got, "faster list")
	assert.NotContains(t, got, "**")
}

func TestBuildVersionStringStoreError(t *testing.T) {
	term, _, _, errOut := terminal.NewTestTerminal()

	_, err := BuildVersionString(term, stubStore{err: errors.New("offline")})
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "Failed to retrieve latest version")
}

func TestVersionCommandPrintsCurrent(t *testing.T) {
	withVersion(t, "")
	term, _, verbose, _ := terminal.NewTestTerminal()

	cmd := NewCmdVersion(term, stubStore{})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dev\n", verbose.String())
}
