package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestWriteCreatesExecutableArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "abin")
	s, err := New(dir)
	require.NoError(t, err)

	path, err := s.Write("greet", "#!/bin/sh\necho hi\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "greet"), path)
	assert.True(t, filepath.IsAbs(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, ArtifactPerm, info.Mode().Perm())

	src, err := s.Read("greet")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", src)
}

func TestWriteOverwrites(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Write("x", "#!/bin/sh\necho 1\n")
	require.NoError(t, err)
	_, err = s.Write("x", "#!/bin/sh\necho 2\n")
	require.NoError(t, err)

	src, err := s.Read("x")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho 2\n", src)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names, "temp files must not survive")
}

func TestLookup(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	path, ok, err := s.Lookup("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, filepath.Join(s.Dir(), "missing"), path)

	_, err = s.Write("present", "#!/bin/sh\n")
	require.NoError(t, err)
	_, ok, err = s.Lookup("present")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "adir"), 0o755))
	_, ok, err = s.Lookup("adir")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not artifacts")
}

func TestReadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Read("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", ".", "..", ".hidden", "a/b", "../escape", "nul\x00"} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "name %q", name)
	}
	for _, name := range []string{"ls", "git-log", "a.b", "x_1"} {
		assert.NoError(t, ValidateName(name), "name %q", name)
	}

	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Write("../outside", "x")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestListSkipsHiddenAndDirs(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, n := range []string{"b", "a"} {
		_, err := s.Write(n, "#!/bin/sh\n")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".c.tmp.1"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "d"), 0o755))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestIndexTracksWrites(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Write("alpha", "#!/bin/sh\n")
	require.NoError(t, err)

	// The watcher goroutine may outlive the test body, so it must not log
	// through t.
	idx, err := NewIndex(s, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Run(ctx)

	assert.Equal(t, []string{"alpha"}, idx.Names())

	_, err = s.Write("alpine", "#!/bin/sh\n")
	require.NoError(t, err)
	_, err = s.Write("beta", "#!/bin/sh\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return cmp.Equal([]string{"alpha", "alpine", "beta"}, idx.Names())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(s.Dir(), "alpha")))
	assert.Eventually(t, func() bool {
		return cmp.Equal([]string{"alpine", "beta"}, idx.Names())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIndexRefresh(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	idx, err := NewIndex(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = s.Write("late", "#!/bin/sh\n")
	require.NoError(t, err)
	require.NoError(t, idx.Refresh())
	assert.Equal(t, []string{"late"}, idx.Names())
}
