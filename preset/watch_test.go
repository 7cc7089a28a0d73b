package preset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Set, 4)
	require.NoError(t, Watch(ctx, path, func(s *Set) { reloaded <- s }))

	require.NoError(t, os.WriteFile(path, []byte(presetsJSON), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-reloaded:
			if s.Len() == 3 {
				return
			}
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "presets.json"), func(*Set) {})
	assert.Error(t, err)
}
