package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

func TestParseWindowsSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   []domain.RawProcess
	}{
		{
			name:   "array",
			stdout: `[{"ProcessId":101,"ParentProcessId":4,"Name":"node.exe","CommandLine":"node C:\\repo\\apps\\repo-studio\\server.js"},{"ProcessId":4,"ParentProcessId":0,"Name":"System","CommandLine":null}]`,
			want: []domain.RawProcess{
				{PID: 101, ParentPID: 4, Name: "node.exe", CommandLine: `node C:\repo\apps\repo-studio\server.js`},
				{PID: 4, Name: "System"},
			},
		},
		{
			name:   "single object",
			stdout: `{"ProcessId":101,"ParentProcessId":1,"Name":"node.exe","CommandLine":"node server.js"}`,
			want:   []domain.RawProcess{{PID: 101, ParentPID: 1, Name: "node.exe", CommandLine: "node server.js"}},
		},
		{
			name:   "byte order mark",
			stdout: "\ufeff" + `[{"ProcessId":9,"ParentProcessId":1,"Name":"pwsh.exe","CommandLine":"pwsh"}]`,
			want:   []domain.RawProcess{{PID: 9, ParentPID: 1, Name: "pwsh.exe", CommandLine: "pwsh"}},
		},
		{
			name:   "non-integer and missing pids dropped",
			stdout: `[{"ProcessId":"abc","Name":"a"},{"ProcessId":1.5,"Name":"b"},{"Name":"c"},{"ProcessId":0,"Name":"idle"},{"ProcessId":7,"Name":"d"}]`,
			want:   []domain.RawProcess{{PID: 7, Name: "d"}},
		},
		{name: "empty output", stdout: "   ", want: nil},
		{name: "garbage", stdout: "Get-CimInstance : access denied", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWindowsSnapshot(tt.stdout)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePosixSnapshot(t *testing.T) {
	stdout := "  1     0 launchd          /sbin/launchd\n" +
		"  300   1 node             node /repo/apps/repo-studio/server.js --port 3010\n" +
		"202 node /usr/bin/node /repo/apps/repo-studio/server.js\n" +
		"\n" +
		"PID PPID COMM ARGS\n" +
		"  400   1 zsh\n"

	got := ParsePosixSnapshot(stdout)
	require.Len(t, got, 4)

	assert.Equal(t, domain.RawProcess{PID: 1, Name: "launchd", CommandLine: "/sbin/launchd"}, got[0])
	assert.Equal(t, domain.RawProcess{
		PID: 300, ParentPID: 1, Name: "node",
		CommandLine: "node /repo/apps/repo-studio/server.js --port 3010",
	}, got[1])
	assert.Equal(t, domain.RawProcess{
		PID: 202, ParentPID: 0, Name: "node",
		CommandLine: "/usr/bin/node /repo/apps/repo-studio/server.js",
	}, got[2])
	assert.Equal(t, domain.RawProcess{PID: 400, ParentPID: 1, Name: "zsh"}, got[3])
}

func TestParsePosixSnapshotWithNames(t *testing.T) {
	stdout := " 4242     1 Web Content      /usr/lib/firefox/firefox -contentproc\n" +
		"  300     1 node             node /repo/apps/repo-studio/server.js\n" +
		"  500     1 Google Chrome\n"
	names := ParsePosixNames(" 4242 Web Content\n  300 node\n  500 Google Chrome  \n  x bogus\n")
	assert.Equal(t, map[int]string{4242: "Web Content", 300: "node", 500: "Google Chrome"}, names)

	got := ParsePosixSnapshotWithNames(stdout, names)
	assert.Equal(t, []domain.RawProcess{
		{PID: 4242, ParentPID: 1, Name: "Web Content", CommandLine: "/usr/lib/firefox/firefox -contentproc"},
		{PID: 300, ParentPID: 1, Name: "node", CommandLine: "node /repo/apps/repo-studio/server.js"},
		{PID: 500, ParentPID: 1, Name: "Google Chrome"},
	}, got)

	// Without names the first word is taken as comm.
	assert.Equal(t, "Web", ParsePosixSnapshot(stdout)[0].Name)
}

func TestParseNetstatListeningPID(t *testing.T) {
	stdout := `
Active Connections

  Proto  Local Address          Foreign Address        State           PID
  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       1040
  TCP    127.0.0.1:30100        0.0.0.0:0              LISTENING       9
  TCP    127.0.0.1:3010         127.0.0.1:52000        ESTABLISHED     777
  TCP    127.0.0.1:3010         0.0.0.0:0              LISTENING       4242
`
	pid, ok := ParseNetstatListeningPID(stdout, 3010)
	require.True(t, ok)
	assert.Equal(t, 4242, pid)

	_, ok = ParseNetstatListeningPID(stdout, 5173)
	assert.False(t, ok)
}

func TestNewPlatform_SelectsByOS(t *testing.T) {
	cfg := config.DefaultConfig()
	runner := newFakeRunner()
	pm := newMockProcessManager()

	assert.Equal(t, domain.SourceWindows, NewPlatform("windows", runner, pm, cfg, zap.NewNop()).Source())
	assert.Equal(t, domain.SourcePosix, NewPlatform("darwin", runner, pm, cfg, zap.NewNop()).Source())
	assert.Equal(t, domain.SourcePosix, NewPlatform("linux", runner, pm, cfg, zap.NewNop()).Source())
}

func TestWindowsPlatform_Collect(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		runner := newFakeRunner().On("powershell", CommandResult{
			Stdout: `[{"ProcessId":101,"ParentProcessId":1,"Name":"node.exe","CommandLine":"node server.js"}]`,
		})
		res := NewWindowsPlatform(runner, zap.NewNop()).Collect(ctx)

		require.True(t, res.OK)
		assert.Equal(t, domain.SourceWindows, res.Source)
		require.Len(t, res.Records, 1)
		assert.Equal(t, 101, res.Records[0].PID)
		assert.Equal(t, "node.exe", res.Records[0].Name)
		assert.Contains(t, runner.commandLines()[0], "Win32_Process")
	})

	t.Run("tool failure", func(t *testing.T) {
		runner := newFakeRunner().On("powershell", CommandResult{ExitCode: 1, Stderr: "denied", Err: errors.New("exit 1")})
		res := NewWindowsPlatform(runner, zap.NewNop()).Collect(ctx)

		assert.False(t, res.OK)
		assert.Empty(t, res.Records)
		assert.Equal(t, "denied", res.Stderr)
	})
}

func TestWindowsPlatform_Terminate(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		result CommandResult
		wantOK bool
	}{
		{"success", CommandResult{Stdout: "SUCCESS: terminated"}, true},
		{"already gone", CommandResult{ExitCode: 128, Stderr: `ERROR: The process "4242" not found.`, Err: errors.New("exit 128")}, true},
		{"access denied", CommandResult{ExitCode: 1, Stderr: "ERROR: Access is denied.", Err: errors.New("exit 1")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner().On("taskkill", tt.result)
			res := NewWindowsPlatform(runner, zap.NewNop()).Terminate(ctx, 4242)

			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, []string{"taskkill /PID 4242 /T /F"}, runner.commandLines())
		})
	}
}

func TestWindowsPlatform_ResolvePortPID(t *testing.T) {
	runner := newFakeRunner().On("netstat", CommandResult{
		Stdout: "  TCP    [::]:3020              [::]:0                 LISTENING       5150\n",
	})
	w := NewWindowsPlatform(runner, zap.NewNop())

	pid, ok := w.ResolvePortPID(context.Background(), 3020)
	require.True(t, ok)
	assert.Equal(t, 5150, pid)

	_, ok = w.ResolvePortPID(context.Background(), 0)
	assert.False(t, ok)
}

func TestPosixPlatform_Collect(t *testing.T) {
	runner := newFakeRunner().
		On("ps -A -o pid=,ppid=,comm=,args=", CommandResult{Stdout: "  10   1 node node /repo/server.js\n  11   1 Web Content /opt/ff -contentproc\n"}).
		On("ps -A -o pid=,comm=", CommandResult{Stdout: "  10 node\n  11 Web Content\n"})
	p := NewPosixPlatform(runner, newMockProcessManager(), time.Second, time.Millisecond, zap.NewNop())

	res := p.Collect(context.Background())
	require.True(t, res.OK)
	assert.Equal(t, domain.SourcePosix, res.Source)
	assert.Equal(t, []domain.RawProcess{
		{PID: 10, ParentPID: 1, Name: "node", CommandLine: "node /repo/server.js"},
		{PID: 11, ParentPID: 1, Name: "Web Content", CommandLine: "/opt/ff -contentproc"},
	}, res.Records)
	assert.Equal(t, []string{"ps -A -o pid=,ppid=,comm=,args=", "ps -A -o pid=,comm="}, runner.commandLines())
}

func TestPosixPlatform_CollectWithoutNameListing(t *testing.T) {
	runner := newFakeRunner().
		On("ps -A -o pid=,ppid=,comm=,args=", CommandResult{Stdout: "  10   1 node node /repo/server.js\n"}).
		On("ps -A -o pid=,comm=", CommandResult{ExitCode: 1, Err: errors.New("exit status 1")})
	p := NewPosixPlatform(runner, newMockProcessManager(), time.Second, time.Millisecond, zap.NewNop())

	res := p.Collect(context.Background())
	require.True(t, res.OK)
	assert.Equal(t, []domain.RawProcess{{PID: 10, ParentPID: 1, Name: "node", CommandLine: "node /repo/server.js"}}, res.Records)
}

func TestPosixPlatform_ResolvePortPID(t *testing.T) {
	ctx := context.Background()

	t.Run("lsof picks the lowest pid", func(t *testing.T) {
		runner := newFakeRunner().On("lsof", CommandResult{Stdout: "812\n640\n"})
		p := NewPosixPlatform(runner, newMockProcessManager(), time.Second, time.Millisecond, zap.NewNop())

		pid, ok := p.ResolvePortPID(ctx, 3010)
		require.True(t, ok)
		assert.Equal(t, 640, pid)
		assert.Equal(t, []string{"lsof -nP -iTCP:3010 -sTCP:LISTEN -t"}, runner.commandLines())
	})

	t.Run("lsof finds nothing", func(t *testing.T) {
		runner := newFakeRunner().On("lsof", CommandResult{ExitCode: 1, Err: errors.New("exit 1")})
		p := NewPosixPlatform(runner, newMockProcessManager(), time.Second, time.Millisecond, zap.NewNop())

		_, ok := p.ResolvePortPID(ctx, 3010)
		assert.False(t, ok)
	})

	t.Run("falls back to connection table without lsof", func(t *testing.T) {
		p := NewPosixPlatform(newFakeRunner(), newMockProcessManager(), time.Second, time.Millisecond, zap.NewNop())
		p.connections = func(context.Context) ([]psnet.ConnectionStat, error) {
			return []psnet.ConnectionStat{
				{Status: "ESTABLISHED", Laddr: psnet.Addr{Port: 3010}, Pid: 11},
				{Status: "LISTEN", Laddr: psnet.Addr{Port: 3010}, Pid: 22},
				{Status: "LISTEN", Laddr: psnet.Addr{Port: 3020}, Pid: 5},
			}, nil
		}

		pid, ok := p.ResolvePortPID(ctx, 3010)
		require.True(t, ok)
		assert.Equal(t, 22, pid)
	})
}

func TestWaitForExit(t *testing.T) {
	ctx := context.Background()

	t.Run("exits during grace", func(t *testing.T) {
		calls := 0
		alive := func(int) bool {
			calls++
			return calls < 3
		}
		assert.True(t, waitForExit(ctx, alive, 1, time.Second, time.Millisecond))
	})

	t.Run("never exits", func(t *testing.T) {
		alive := func(int) bool { return true }
		assert.False(t, waitForExit(ctx, alive, 1, 20*time.Millisecond, 5*time.Millisecond))
	})
}
