package subject

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return time.Date(2026, 3, 4, 9, 5, 6, 0, time.Local) })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestOpenCreatesDirectoryAndHeader(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.Open("SUBJ001")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	assert.True(t, sub.Created)
	assert.DirExists(t, filepath.Join(s.Root(), "SUBJ001"))
	assert.Equal(t, []string{LogHeader}, readLines(t, s.LogPath("SUBJ001")))
}

func TestOpenExistingAppends(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Open("P9")
	require.NoError(t, err)
	require.NoError(t, first.Append(Entry{Subject: "P9", Time: s.Now(), File: "P9/P9_a.csv", Address: "10.0.0.1"}))
	require.NoError(t, first.Close())

	second, err := s.Open("P9")
	require.NoError(t, err)
	assert.False(t, second.Created)
	require.NoError(t, second.Append(Entry{Subject: "P9", Time: s.Now(), File: "P9/P9_b.csv", Address: "10.0.0.2"}))
	require.NoError(t, second.Close())

	lines := readLines(t, s.LogPath("P9"))
	require.Len(t, lines, 3)
	assert.Equal(t, LogHeader, lines[0])
	assert.Equal(t, "P9,Wed Mar  4 09:05:06 2026,P9/P9_a.csv,10.0.0.1", lines[1])
	assert.Equal(t, "P9,Wed Mar  4 09:05:06 2026,P9/P9_b.csv,10.0.0.2", lines[2])
}

func TestOpenRejectsFileInTheWay(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "S1"), nil, 0644))

	_, err := s.Open("S1")
	assert.Error(t, err)

	_, err = s.Open("../escape")
	assert.Error(t, err)
}

func TestSlotFiles(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.Open("SUBJ001")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	write := func(f *os.File, data string) {
		_, err := io.WriteString(f, data)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	f, name, err := sub.CreatePrimary("SUBJ001_trial.csv")
	require.NoError(t, err)
	assert.Equal(t, "SUBJ001_trial.csv", name)
	write(f, "one")

	f, comp, err := sub.CreateCompanion(name)
	require.NoError(t, err)
	assert.Equal(t, "SUBJ001_trial", comp)
	write(f, "one-copy")

	f, name2, err := sub.CreatePrimary("SUBJ001_trial.csv")
	require.NoError(t, err)
	assert.Equal(t, "SUBJ001_trial(1).csv", name2)
	write(f, "two")

	assert.Equal(t, "SUBJ001/SUBJ001_trial(1).csv", sub.RelPath(name2))

	t.Run("CompanionWithoutExtension", func(t *testing.T) {
		f, name, err := sub.CreatePrimary("SUBJ001_raw")
		require.NoError(t, err)
		write(f, "raw")

		f, comp, err := sub.CreateCompanion(name)
		require.NoError(t, err)
		assert.Equal(t, "SUBJ001_raw(1)", comp)
		write(f, "raw-copy")

		data, err := os.ReadFile(filepath.Join(sub.Dir, "SUBJ001_raw"))
		require.NoError(t, err)
		assert.Equal(t, "raw", string(data), "slot 1 must never overwrite slot 0")
	})
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t)

	const conns, perConn = 16, 25
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := s.Open("SHARED")
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = sub.Close() }()
			for range perConn {
				assert.NoError(t, sub.Append(Entry{Subject: "SHARED", Time: s.Now(), File: "SHARED/f.csv", Address: "10.0.0." + string(rune('a'+i))}))
			}
		}()
	}
	wg.Wait()

	lines := readLines(t, s.LogPath("SHARED"))
	require.Len(t, lines, 1+conns*perConn)
	assert.Equal(t, LogHeader, lines[0])
	for _, l := range lines[1:] {
		assert.True(t, strings.HasPrefix(l, "SHARED,"), "torn line %q", l)
		assert.Equal(t, 3, strings.Count(l, ","))
	}
}

func TestReadLogAndSummaries(t *testing.T) {
	s := newTestStore(t)

	for _, code := range []string{"B2", "A1"} {
		sub, err := s.Open(code)
		require.NoError(t, err)
		f, name, err := sub.CreatePrimary(code + "_x.csv")
		require.NoError(t, err)
		_, _ = f.WriteString("12345")
		require.NoError(t, f.Close())
		require.NoError(t, sub.Append(Entry{Subject: code, Time: s.Now(), File: sub.RelPath(name), Address: "127.0.0.1"}))
		require.NoError(t, sub.Close())
	}
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "not-a-subject"), 0755))

	entries, err := s.ReadLog("A1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A1/A1_x.csv", entries[0].File)
	assert.True(t, s.Now().Equal(entries[0].Time))

	subjects, err := s.ListSubjects()
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "A1", subjects[0].Code)
	assert.Equal(t, 1, subjects[0].Files)
	assert.Equal(t, int64(5), subjects[0].Bytes)
	assert.Equal(t, 1, subjects[0].Entries)

	_, err = s.ReadLog("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Summarize("../etc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadLogToleratesCommasInNames(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.Open("C")
	require.NoError(t, err)
	require.NoError(t, sub.Append(Entry{Subject: "C", Time: s.Now(), File: "C/C_a,b.csv", Address: "::1"}))
	require.NoError(t, sub.Close())

	entries, err := s.ReadLog("C")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "C/C_a,b.csv", entries[0].File)
}

func TestDecodeLogSkipsHeaderAndMalformedRows(t *testing.T) {
	in := LogHeader + "\n" +
		"A1,Wed Mar  4 09:05:06 2026,A1/A1_x.csv,10.0.0.1\n" +
		"short,row\n" +
		"A1,not a time,A1/A1_x(1).csv,10.0.0.2\n"

	entries, err := DecodeLog(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "A1/A1_x.csv", entries[0].File)
	assert.True(t, time.Date(2026, 3, 4, 9, 5, 6, 0, time.Local).Equal(entries[0].Time))
	assert.Equal(t, "10.0.0.2", entries[1].Address)
	assert.True(t, entries[1].Time.IsZero())
}
