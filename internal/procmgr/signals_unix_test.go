//go:build !windows

package procmgr

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstallSignalHandlersRequestsShutdown(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGINT} {
		t.Run(sig.String(), func(t *testing.T) {
			m := NewRankManager()
			stop := m.InstallSignalHandlers()
			defer stop()

			require.False(t, m.ShutdownRequested())
			require.NoError(t, syscall.Kill(syscall.Getpid(), sig))
			require.Eventually(t, m.ShutdownRequested, 2*time.Second, 10*time.Millisecond)
			require.Equal(t, StateIdle, m.State(), "the handler only flips the flag")

			stop()
			stop()
		})
	}
}
