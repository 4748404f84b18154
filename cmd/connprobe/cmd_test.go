package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/config"
	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/storage"
)

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"example.com", "*.example.org"}, splitCSV(" example.com, ,*.example.org,"))
	assert.Empty(t, splitCSV(""))
}

func TestBuildOptions(t *testing.T) {
	c := config.DefaultConfig()
	c.Probe.ReachTimeout = "2s"
	c.Probe.GreetingTimeout = "750ms"
	c.Probe.ParallelReach = true
	c.Probe.MaxParallel = 3
	c.Probe.DNSServer = "192.0.2.53"
	c.Server.AllowedCIDRs = []string{"192.0.2.0/24"}

	opts, err := buildOptions(c)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, opts.Reach.Timeout)
	assert.True(t, opts.Reach.Parallel)
	assert.Equal(t, 3, opts.Reach.MaxParallel)
	assert.Equal(t, 750*time.Millisecond, opts.Greeting.Timeout)
	assert.Equal(t, c.Probe.GreetingBuffer, opts.Greeting.BufferSize)

	dns, ok := opts.Resolver.(*probe.DNSResolver)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.53:53", dns.Server)

	require.NotNil(t, opts.Scope)
	assert.NoError(t, opts.Scope.ValidateIP("192.0.2.10"))
	assert.Error(t, opts.Scope.ValidateIP("198.51.100.1"))
}

func TestBuildOptionsDefaults(t *testing.T) {
	opts, err := buildOptions(config.DefaultConfig())
	require.NoError(t, err)

	assert.Nil(t, opts.Resolver)
	assert.Nil(t, opts.Scope)
	assert.False(t, opts.Reach.Parallel)
}

func TestBuildOptionsBadCIDR(t *testing.T) {
	c := config.DefaultConfig()
	c.Server.AllowedCIDRs = []string{"not-a-cidr"}

	_, err := buildOptions(c)
	assert.Error(t, err)
}

func TestShortRunID(t *testing.T) {
	assert.Equal(t, "abc", shortRunID("abc"))
	assert.Equal(t, "12345678...", shortRunID("12345678-aaaa-bbbb"))
}

func TestFormatFailure(t *testing.T) {
	assert.Equal(t, "-", formatFailure(&models.RunRecord{}))
	assert.Equal(t, "ConnectionTimeout (after probed)", formatFailure(&models.RunRecord{
		ErrorKind: "ConnectionTimeout",
		FailedAt:  models.StateProbed,
	}))
}

func saveRun(t *testing.T, store *storage.Store, target models.ProbeTarget, startedAt time.Time) *models.RunRecord {
	t.Helper()

	rec := models.NewRunRecord(target)
	rec.StartedAt = startedAt
	rec.Status = models.StatusSuccess
	require.NoError(t, store.SaveRun(rec))
	return rec
}

func TestPickRuns(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	target := models.NewTarget("imap.example.com", 993)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := saveRun(t, store, target, base)
	second := saveRun(t, store, target, base.Add(time.Hour))
	third := saveRun(t, store, target, base.Add(2*time.Hour))

	t.Run("latest two", func(t *testing.T) {
		cur, prev, err := pickRuns(store, target.String(), "", "")
		require.NoError(t, err)
		assert.Equal(t, third.ID, cur.ID)
		assert.Equal(t, second.ID, prev.ID)
	})

	t.Run("explicit run", func(t *testing.T) {
		cur, prev, err := pickRuns(store, "", second.ID, "")
		require.NoError(t, err)
		assert.Equal(t, second.ID, cur.ID)
		assert.Equal(t, first.ID, prev.ID)
	})

	t.Run("explicit compare", func(t *testing.T) {
		cur, prev, err := pickRuns(store, target.String(), "", first.ID)
		require.NoError(t, err)
		assert.Equal(t, third.ID, cur.ID)
		assert.Equal(t, first.ID, prev.ID)
	})

	t.Run("oldest has no baseline", func(t *testing.T) {
		_, prev, err := pickRuns(store, "", first.ID, "")
		require.NoError(t, err)
		assert.Nil(t, prev)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, _, err := pickRuns(store, "", "missing", "")
		assert.Error(t, err)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, _, err := pickRuns(store, "nowhere.example:993", "", "")
		assert.Error(t, err)
	})
}

func TestAskWizardPreset(t *testing.T) {
	// gmail-imap sorts first among the presets
	input := "1\n45s\ny\nhtml\n\n\n"
	var out strings.Builder

	w, err := askWizard(bufio.NewReader(strings.NewReader(input)), &out, models.NewTarget("imap.example.com", 143))
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, pipeline.PresetNames()[0], w.preset)
	assert.Equal(t, 45*time.Second, w.target.Timeout)
	assert.True(t, w.parallel)
	assert.Equal(t, "html", w.reportFormat)
	assert.Empty(t, w.webhookURL)
	assert.Contains(t, out.String(), "[*] Ready to test:")
}

func TestAskWizardCustomTarget(t *testing.T) {
	input := "0\nmail.example.net\nimaps\nsoon\n\nbogus\nhttps://hooks.example/x\ny\n"
	var out strings.Builder

	w, err := askWizard(bufio.NewReader(strings.NewReader(input)), &out, models.NewTarget("imap.example.com", 143))
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Empty(t, w.preset)
	assert.Equal(t, "mail.example.net", w.target.Host)
	assert.Equal(t, models.DefaultPort, w.target.Port)
	assert.Equal(t, models.DefaultTimeout, w.target.Timeout)
	assert.False(t, w.parallel)
	assert.Empty(t, w.reportFormat)
	assert.Equal(t, "https://hooks.example/x", w.webhookURL)
	assert.Contains(t, out.String(), `[!] Could not parse "imaps" as a port`)
}

func TestAskWizardDeclined(t *testing.T) {
	input := "\n\n\n\n\n\n\nn\n"
	var out strings.Builder

	w, err := askWizard(bufio.NewReader(strings.NewReader(input)), &out, models.NewTarget("imap.example.com", 143))
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Contains(t, out.String(), "Cancelled.")
}

func TestInitWorkspace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	seed := config.DefaultConfig()
	seed.Target.Server, seed.Target.Port = "outlook.office365.com", 995

	var out strings.Builder
	require.NoError(t, initWorkspace(&out, dir, seed, false))

	configPath := filepath.Join(dir, "connprobe.yaml")
	assert.FileExists(t, configPath)
	assert.DirExists(t, filepath.Join(dir, "reports"))
	assert.FileExists(t, filepath.Join(dir, "connprobe.db"))
	assert.Contains(t, out.String(), "(target outlook.office365.com:995)")

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "outlook.office365.com", loaded.Target.Server)
	assert.Equal(t, 995, loaded.Target.Port)
	assert.Equal(t, filepath.Join(dir, "connprobe.db"), loaded.DBPath)

	// seed is not modified
	assert.Equal(t, "connprobe.db", seed.DBPath)

	err = initWorkspace(&out, dir, seed, false)
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, initWorkspace(&out, dir, seed, true))
}

func TestInitWorkspaceRejectsInvalidSeed(t *testing.T) {
	dir := t.TempDir()
	seed := config.DefaultConfig()
	seed.Target.Port = 70000

	var out strings.Builder
	assert.Error(t, initWorkspace(&out, dir, seed, false))
	_, err := os.Stat(filepath.Join(dir, "connprobe.yaml"))
	assert.True(t, os.IsNotExist(err))
}
