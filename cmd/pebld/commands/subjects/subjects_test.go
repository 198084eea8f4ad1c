package subjects

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pebld/pkg/subject"
)

var seedTime = time.Date(2026, 3, 4, 9, 5, 6, 0, time.Local)

// seed stores one upload of name, journaling both slots like the server.
func seed(t *testing.T, store *subject.Store, name, addr string) {
	t.Helper()
	code, _, _ := strings.Cut(name, "_")

	sub, err := store.Open(code)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	f, primary, err := sub.CreatePrimary(name)
	require.NoError(t, err)
	_, err = f.WriteString("1,2,3\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, _, err = sub.CreateCompanion(primary)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for range 2 {
		require.NoError(t, sub.Append(subject.Entry{
			Subject: code,
			Time:    seedTime,
			File:    sub.RelPath(primary),
			Address: addr,
		}))
	}
}

func newStore(t *testing.T) *subject.Store {
	t.Helper()
	store, err := subject.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// execute runs the subjects command tree under a throwaway root. Flag
// values persist between runs, so callers pass every flag they rely on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "pebld", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "config file")
	root.AddCommand(Cmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"subjects"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestListTable(t *testing.T) {
	store := newStore(t)
	seed(t, store, "A1_run.csv", "10.0.0.1")
	seed(t, store, "A1_run.csv", "10.0.0.2")
	seed(t, store, "B2_x.csv", "10.0.0.3")

	out, err := execute(t, "list", "--root", store.Root(), "-o", "table")
	require.NoError(t, err)

	assert.Contains(t, out, "CODE")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[1]), "A1"), lines[1])
	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[2]), "B2"), lines[2])
}

func TestListJSON(t *testing.T) {
	store := newStore(t)
	seed(t, store, "A1_run.csv", "10.0.0.1")
	seed(t, store, "A1_run.csv", "10.0.0.2")

	out, err := execute(t, "list", "--root", store.Root(), "-o", "json")
	require.NoError(t, err)

	var got []subject.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].Code)
	assert.Equal(t, 4, got[0].Files)
	assert.Equal(t, 4, got[0].Entries)
	assert.EqualValues(t, 12, got[0].Bytes)
}

func TestListEmptyRoot(t *testing.T) {
	store := newStore(t)

	out, err := execute(t, "list", "--root", store.Root(), "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "No subjects found")
}

func TestMissingRootIsAnError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := execute(t, "list", "--root", missing, "-o", "table")
	require.Error(t, err)
	assert.NoDirExists(t, missing)
}

func TestShow(t *testing.T) {
	store := newStore(t)
	seed(t, store, "C3_a.csv", "10.0.0.1")

	out, err := execute(t, "show", "C3", "--root", store.Root(), "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "code: C3")
	assert.Contains(t, out, "files: 2")

	_, err = execute(t, "show", "ZZ", "--root", store.Root(), "-o", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEntries(t *testing.T) {
	store := newStore(t)
	seed(t, store, "D4_a.csv", "10.0.0.1")
	seed(t, store, "D4_a.csv", "10.0.0.2")

	out, err := execute(t, "entries", "D4", "--root", store.Root(), "-o", "json", "-n", "0")
	require.NoError(t, err)

	var got []subject.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 4)
	assert.Equal(t, "D4/D4_a.csv", got[0].File)
	assert.Equal(t, "D4/D4_a(1).csv", got[3].File)
	assert.Equal(t, "10.0.0.2", got[3].Address)
	assert.True(t, got[0].Time.Equal(seedTime))

	out, err = execute(t, "entries", "D4", "--root", store.Root(), "-o", "json", "-n", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "D4/D4_a(1).csv", got[0].File)
}

func TestTailWithoutFollow(t *testing.T) {
	store := newStore(t)
	seed(t, store, "E5_a.csv", "10.0.0.1")
	seed(t, store, "E5_b.csv", "10.0.0.9")

	out, err := execute(t, "tail", "E5", "--root", store.Root(), "-o", "table", "-n", "2", "--follow=false")
	require.NoError(t, err)
	assert.Contains(t, out, "E5/E5_b.csv")
	assert.NotContains(t, out, "E5/E5_a.csv")
}

func TestJournalFollower(t *testing.T) {
	store := newStore(t)
	seed(t, store, "F6_a.csv", "10.0.0.1")

	f, err := newJournalFollower(store.LogPath("F6"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan subject.Entry, 8)
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(e subject.Entry) error {
			got <- e
			return nil
		})
	}()

	seed(t, store, "F6_b.csv", "10.0.0.7")

	for i := range 2 {
		select {
		case e := <-got:
			assert.Equal(t, "F6/F6_b.csv", e.File)
			assert.Equal(t, "10.0.0.7", e.Address)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for entry %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop")
	}
}

func TestLastN(t *testing.T) {
	entries := []subject.Entry{{File: "a"}, {File: "b"}, {File: "c"}}

	assert.Len(t, lastN(entries, 0), 3)
	assert.Len(t, lastN(entries, 5), 3)
	assert.Equal(t, []subject.Entry{{File: "c"}}, lastN(entries, 1))
}
