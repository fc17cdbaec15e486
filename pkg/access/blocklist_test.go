package access

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func Test_Blocklist_load(t *testing.T) {
	r := require.New(t)

	file := filepath.Join(t.TempDir(), "blocked.txt")
	writeFile(t, file, "# comment\nexample.com\n\nAds.Example.ORG\n")

	b, err := Load(file, nil)
	r.NoError(err)
	defer b.Close()

	r.Equal(2, b.Len())
	r.True(b.Blocked("example.com"))
	r.True(b.Blocked("EXAMPLE.com"))
	r.True(b.Blocked("ads.example.org"))
	r.False(b.Blocked("other.com"))
	r.False(b.Blocked("sub.example.com"))
}

func Test_Blocklist_reload(t *testing.T) {
	r := require.New(t)

	file := filepath.Join(t.TempDir(), "blocked.txt")
	writeFile(t, file, "a.com\n")

	b, err := Load(file, nil)
	r.NoError(err)
	defer b.Close()
	r.True(b.Blocked("a.com"))

	writeFile(t, file, "b.com\n")

	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		if b.Blocked("b.com") && !b.Blocked("a.com") {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
	t.Fatal("blocklist was not reloaded")
}

func Test_Blocklist_nil(t *testing.T) {
	var b *Blocklist
	require.False(t, b.Blocked("example.com"))
	require.NoError(t, b.Close())
}

func Test_Blocklist_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"), nil)
	require.Error(t, err)
}
