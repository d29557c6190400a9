package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		searchStore = false
		searchPages = 1
	})
	return rootCmd.ExecuteContext(context.Background())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["search"])
	assert.True(t, names["serve"])
}

func TestSearchRequiresTermsAndLocation(t *testing.T) {
	err := run(t, "search", "chicken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}

func TestSearchStoreRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := run(t, "search", "chicken", "Los Angeles, CA", "--store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store requires DATABASE_URL")
}

func TestSearchRejectsInvalidConfig(t *testing.T) {
	t.Setenv("SCRAPER_PAGE_DELAY_MIN", "5s")
	t.Setenv("SCRAPER_PAGE_DELAY_MAX", "1s")

	err := run(t, "search", "chicken", "Los Angeles, CA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRAPER_PAGE_DELAY_MIN")
}
