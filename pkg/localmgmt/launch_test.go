package localmgmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessLauncherRejectsUnknownKind(t *testing.T) {
	l := NewProcessLauncher(map[ProcessKind]string{})
	_, err := l.Launch(LaunchRequest{Kind: "not-allowed"})
	require.Error(t, err)
}

func TestProcessLauncherRejectsMissingBinary(t *testing.T) {
	l := NewProcessLauncher(map[ProcessKind]string{})
	_, err := l.Launch(LaunchRequest{Kind: ProcessCopyLog})
	require.Error(t, err)
}

func TestProcessLauncherLaunchAndWait(t *testing.T) {
	l := NewProcessLauncher(map[ProcessKind]string{
		ProcessCopyLog: "/bin/echo",
	})
	handle, err := l.Launch(LaunchRequest{Kind: ProcessCopyLog, Args: []string{"hello"}})
	require.NoError(t, err)
	require.Greater(t, handle.Pid, 0)

	status, err := l.Wait(handle.ID, -1)
	require.NoError(t, err)
	require.Equal(t, 0, status.ExitCode)
	require.Equal(t, "hello\n", string(status.Stdout))
}

func TestProcessLauncherWaitUnknownID(t *testing.T) {
	l := NewProcessLauncher(map[ProcessKind]string{})
	_, err := l.Wait(999, -1)
	require.Error(t, err)
}
