package infra

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

func newTestStateFiles(t *testing.T) (*StateFiles, *FileRuntimeStore, *Layout) {
	t.Helper()
	layout, err := NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(layout.StateDir, 0755))
	store := NewFileRuntimeStore(layout, config.DefaultConfig())
	return NewStateFiles(layout, store, zap.NewNop()), store, layout
}

func TestStateFiles_TrackedPIDs(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		files, _, _ := newTestStateFiles(t)
		assert.Empty(t, files.TrackedPIDs())
	})

	t.Run("desktop runtime and companion", func(t *testing.T) {
		files, store, layout := newTestStateFiles(t)
		_, err := store.Write(domain.RuntimeState{
			PID:  500,
			Mode: domain.ModeDesktop,
			Desktop: &domain.DesktopRuntime{
				ElectronPID: 502,
				ServerPID:   501,
			},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(layout.CodexRuntimeFile, []byte(`{"pid":600,"wsUrl":"ws://127.0.0.1:3040","port":3040}`), 0644))

		assert.Equal(t, []int{500, 501, 502, 600}, files.TrackedPIDs())
	})

	t.Run("non-desktop ignores stale desktop pids", func(t *testing.T) {
		files, store, _ := newTestStateFiles(t)
		require.NoError(t, os.WriteFile(store.Path(), []byte(`{"pid":500,"mode":"app","desktop":{"electronPid":9}}`), 0644))

		assert.Equal(t, []int{500}, files.TrackedPIDs())
	})

	t.Run("malformed companion ignored", func(t *testing.T) {
		files, _, layout := newTestStateFiles(t)
		require.NoError(t, os.WriteFile(layout.CodexRuntimeFile, []byte(`{pid:`), 0644))

		assert.Empty(t, files.TrackedPIDs())
	})
}

func TestStateFiles_ReadCompanion(t *testing.T) {
	files, _, layout := newTestStateFiles(t)

	c, err := files.ReadCompanion()
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, os.WriteFile(layout.CodexRuntimeFile,
		[]byte(`{"pid":600,"wsUrl":"ws://127.0.0.1:3040","port":3040,"startedAt":"2026-01-01T00:00:00Z","extra":true}`), 0644))
	c, err = files.ReadCompanion()
	require.NoError(t, err)
	assert.Equal(t, &domain.CompanionRuntime{
		PID:       600,
		WSURL:     "ws://127.0.0.1:3040",
		Port:      3040,
		StartedAt: "2026-01-01T00:00:00Z",
	}, c)
}

func TestStateFiles_ClearRuntimeState(t *testing.T) {
	write := func(t *testing.T, layout *Layout) {
		for _, p := range []string{layout.RuntimeFile, layout.CodexRuntimeFile, layout.CodexSessionFile} {
			require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0644))
		}
	}

	t.Run("keeps session by default", func(t *testing.T) {
		files, _, layout := newTestStateFiles(t)
		write(t, layout)

		removed, err := files.ClearRuntimeState(false)
		require.NoError(t, err)
		assert.Equal(t, []string{layout.RuntimeFile, layout.CodexRuntimeFile}, removed)
		assert.FileExists(t, layout.CodexSessionFile)
	})

	t.Run("clears session on request", func(t *testing.T) {
		files, _, layout := newTestStateFiles(t)
		write(t, layout)

		removed, err := files.ClearRuntimeState(true)
		require.NoError(t, err)
		assert.Len(t, removed, 3)
		assert.NoFileExists(t, layout.CodexSessionFile)
	})

	t.Run("missing files are fine", func(t *testing.T) {
		files, _, _ := newTestStateFiles(t)

		removed, err := files.ClearRuntimeState(true)
		require.NoError(t, err)
		assert.Empty(t, removed)
	})
}
