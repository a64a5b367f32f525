package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SaveFetchTimes(map[string]time.Duration{"all": 750 * time.Millisecond}))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	avgs, err := s2.AllFetchTimes()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, avgs["all"])
}

// --- Fetch times ---

func TestAllFetchTimes_EmptyByDefault(t *testing.T) {
	s := testDB(t)

	avgs, err := s.AllFetchTimes()
	require.NoError(t, err)
	assert.Empty(t, avgs)
}

func TestSaveFetchTimes_RoundTrip(t *testing.T) {
	s := testDB(t)

	in := map[string]time.Duration{
		"all":                  1200 * time.Millisecond,
		"search:equals:string": 340 * time.Millisecond,
	}
	require.NoError(t, s.SaveFetchTimes(in))

	out, err := s.AllFetchTimes()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSaveFetchTimes_Overwrite(t *testing.T) {
	s := testDB(t)

	require.NoError(t, s.SaveFetchTimes(map[string]time.Duration{"all": time.Second}))
	require.NoError(t, s.SaveFetchTimes(map[string]time.Duration{"all": 2 * time.Second}))

	out, err := s.AllFetchTimes()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, out["all"])
}

func TestSaveFetchTimes_TruncatesToMilliseconds(t *testing.T) {
	s := testDB(t)

	require.NoError(t, s.SaveFetchTimes(map[string]time.Duration{"all": 1500*time.Millisecond + 999*time.Microsecond}))

	out, err := s.AllFetchTimes()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, out["all"])
}

// --- File ids ---

func TestFileID_EmptyByDefault(t *testing.T) {
	s := testDB(t)

	id, err := s.FileID("photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestSetFileIDs_RoundTrip(t *testing.T) {
	s := testDB(t)

	require.NoError(t, s.SetFileIDs(map[string]string{
		"photos/cat.jpg": "01HZX4YB4M0000000000000001",
		"photos/dog.jpg": "01HZX4YB4M0000000000000002",
	}))

	id, err := s.FileID("photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "01HZX4YB4M0000000000000001", id)

	all, err := s.AllFileIDs()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteFileID(t *testing.T) {
	s := testDB(t)

	require.NoError(t, s.SetFileIDs(map[string]string{"a.png": "01HZX4YB4M0000000000000003"}))
	require.NoError(t, s.DeleteFileID("a.png"))

	id, err := s.FileID("a.png")
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestDeleteFileID_MissingIsNoop(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.DeleteFileID("never-existed.png"))
}
