package fs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/static-assets/internal/assets"
)

func newTestStorage(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "assets"))
	require.NoError(t, err)
	return s
}

func TestNewStorageCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")

	s, err := NewStorage(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.root)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteReadDelete(t *testing.T) {
	s := newTestStorage(t)

	asset, err := s.Write("a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", asset.Name)
	assert.Equal(t, int64(5), asset.Size)
	assert.False(t, asset.CreatedAt.IsZero())

	asset, content, err := s.Read("a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(content)
	require.NoError(t, err)
	require.NoError(t, content.Close())
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), asset.Size)

	require.NoError(t, s.Delete("a.txt"))

	_, _, err = s.Read("a.txt")
	assert.ErrorIs(t, err, assets.ErrNotFound)
	assert.ErrorIs(t, s.Delete("a.txt"), assets.ErrNotFound)
}

func TestList(t *testing.T) {
	s := newTestStorage(t)

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Write("a.txt", strings.NewReader("abc"))
	require.NoError(t, err)
	_, err = s.Write("b.png", strings.NewReader("12345678"))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.root, "subdir"), 0755))

	list, err = s.List()
	require.NoError(t, err)

	sizes := map[string]int64{}
	for _, a := range list {
		sizes[a.Name] = a.Size
	}
	assert.Equal(t, map[string]int64{"a.txt": 3, "b.png": 8}, sizes)
}

func TestListUnavailable(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.RemoveAll(s.root))

	_, err := s.List()
	assert.ErrorIs(t, err, assets.ErrStorageUnavailable)
	assert.NotContains(t, err.Error(), s.root)
}

func TestDirectoriesAreNotAssets(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.Mkdir(filepath.Join(s.root, "subdir"), 0755))

	_, _, err := s.Read("subdir")
	assert.ErrorIs(t, err, assets.ErrNotFound)
	assert.ErrorIs(t, s.Delete("subdir"), assets.ErrNotFound)
	assert.ErrorIs(t, s.Delete(stagingDir), assets.ErrNotFound)

	_, err = os.Stat(filepath.Join(s.root, "subdir"))
	assert.NoError(t, err)
}

func TestNamesCannotEscapeRoot(t *testing.T) {
	s := newTestStorage(t)
	outside := filepath.Join(filepath.Dir(s.root), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0644))

	_, _, err := s.Read("../outside.txt")
	assert.ErrorIs(t, err, assets.ErrNotFound)
	assert.ErrorIs(t, s.Delete("../outside.txt"), assets.ErrNotFound)

	_, err = s.Write("../outside.txt", strings.NewReader("overwritten"))
	require.NoError(t, err)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	data, err = os.ReadFile(filepath.Join(s.root, "outside.txt"))
	require.NoError(t, err)
	assert.Equal(t, "overwritten", string(data))
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestWriteFailureLeavesNoPartialFile(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Write("a.txt", strings.NewReader("original"))
	require.NoError(t, err)

	_, err = s.Write("a.txt", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	assert.ErrorIs(t, err, assets.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "connection reset")

	data, err := os.ReadFile(filepath.Join(s.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	staged, err := os.ReadDir(filepath.Join(s.root, stagingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestDeletePermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	s := newTestStorage(t)

	_, err := s.Write("a.txt", strings.NewReader("abc"))
	require.NoError(t, err)

	require.NoError(t, os.Chmod(s.root, 0555))
	t.Cleanup(func() { os.Chmod(s.root, 0755) })

	err = s.Delete("a.txt")
	assert.ErrorIs(t, err, assets.ErrStorageUnavailable)
	assert.NotContains(t, err.Error(), s.root)
}

// Same-name uploads are last-writer-wins. Staged writes mean a reader
// racing the writers sees one complete payload, never a mix.
func TestConcurrentWritesSameName(t *testing.T) {
	s := newTestStorage(t)

	payloads := make([][]byte, 8)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i)}, 256<<10)
	}

	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			_, err := s.Write("race.txt", bytes.NewReader(p))
			assert.NoError(t, err)
		}(p)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, content, err := s.Read("race.txt")
			if errors.Is(err, assets.ErrNotFound) {
				continue
			}
			if !assert.NoError(t, err) {
				return
			}
			data, err := io.ReadAll(content)
			content.Close()
			assert.NoError(t, err)
			assert.Contains(t, payloads, data)
		}
	}()

	wg.Wait()

	data, err := os.ReadFile(filepath.Join(s.root, "race.txt"))
	require.NoError(t, err)
	assert.Contains(t, payloads, data)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWriteLongName(t *testing.T) {
	s := newTestStorage(t)
	name := strings.Repeat("a", 248) + ".png"

	asset, err := s.Write(name, strings.NewReader("long"))
	require.NoError(t, err)
	assert.Equal(t, name, asset.Name)

	_, content, err := s.Read(name)
	require.NoError(t, err)
	data, err := io.ReadAll(content)
	require.NoError(t, err)
	require.NoError(t, content.Close())
	assert.Equal(t, "long", string(data))
}

func TestNulByteNamesAreNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, _, err := s.Read("a\x00.png")
	assert.ErrorIs(t, err, assets.ErrNotFound)
	assert.ErrorIs(t, s.Delete("a\x00.png"), assets.ErrNotFound)
}
