package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/transport"
)

// cliEnv makes the test binary behave as ipcctl, so runs can re-execute it.
const cliEnv = "IPCDEMO_TEST_CLI"

func TestMain(m *testing.M) {
	if os.Getenv(cliEnv) != "" {
		cmd := NewRootCommand()
		cmd.SetArgs(os.Args[1:])
		os.Exit(ExitCode(cmd.Execute()))
	}
	os.Exit(m.Run())
}

func decodeLines(t *testing.T, out string) []event.Event {
	t.Helper()
	var events []event.Event
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		e, err := event.Decode([]byte(line))
		require.NoError(t, err, "line %q", line)
		events = append(events, e)
	}
	return events
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("IPCDEMO_SHM_DIR", dir)
	t.Setenv("IPCDEMO_SOCKET_DIR", dir)
	return dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ipcctl", cmd.Use)

	for _, name := range []string{"pipes", "shm", "socket", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestWatchFlags(t *testing.T) {
	cmd := NewRootCommand()
	watch, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	for _, name := range []string{"metrics-addr", "executable", "json"} {
		assert.NotNil(t, watch.Flags().Lookup(name), name)
	}
}

func TestBadArgumentsReportOneError(t *testing.T) {
	cases := map[string][]string{
		"missing":    {},
		"extra":      {"one", "two"},
		"dash extra": {"-n", "--x"},
	}
	for _, kind := range transport.Kinds {
		for name, extra := range cases {
			t.Run(string(kind)+"/"+name, func(t *testing.T) {
				dir := isolate(t)
				var out bytes.Buffer
				cmd := NewRootCommand()
				cmd.SetOut(&out)
				cmd.SetArgs(append([]string{string(kind)}, extra...))

				err := cmd.Execute()
				require.Error(t, err)
				assert.Equal(t, ExitUsage, ExitCode(err))

				events := decodeLines(t, out.String())
				require.Len(t, events, 1)
				assert.Equal(t, event.KindError, events[0].Kind)
				assert.Equal(t, transport.DefaultModule(kind), events[0].Module)
				assert.Contains(t, events[0].Error, "<message>")

				entries, err := os.ReadDir(dir)
				require.NoError(t, err)
				assert.Empty(t, entries, "no objects may be created")
			})
		}
	}
}

func TestInvalidConfigReportsOneError(t *testing.T) {
	isolate(t)
	t.Setenv("IPCDEMO_SHM_SIZE", "1")
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"shm", "hello"})

	err := cmd.Execute()
	assert.Equal(t, ExitUsage, ExitCode(err))
	events := decodeLines(t, out.String())
	require.Len(t, events, 1)
	assert.Equal(t, event.KindError, events[0].Kind)
	assert.Contains(t, events[0].Error, "shm size")
}

func TestWatchRejectsUnknownTransport(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"watch", "carrier-pigeon", "hi"})
	assert.Equal(t, ExitUsage, ExitCode(cmd.Execute()))
}

func TestTransportCommandTakesDashMessage(t *testing.T) {
	for _, kind := range transport.Kinds {
		cmd := NewRootCommand()
		sub, rest, err := cmd.Find([]string{string(kind), "-n"})
		require.NoError(t, err)
		assert.True(t, sub.DisableFlagParsing, string(kind))
		assert.Equal(t, []string{"-n"}, rest)
	}
}

func TestWatchBadFlagIsUsageError(t *testing.T) {
	var errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"watch", "pipes", "-n"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, err.Error(), `"--"`)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(assert.AnError))
	assert.Equal(t, ExitUsage, ExitCode(WrapExitError(ExitUsage, "wrapped", assert.AnError)))
	assert.ErrorIs(t, WrapExitError(ExitUsage, "wrapped", assert.AnError), assert.AnError)
}

func TestRenderer(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)
	r.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local) }

	cases := []struct {
		name string
		in   event.Event
		want string
	}{
		{"status", event.NewStatus("shm", "created", "Shared memory created", 42), "[15:04:05] (PID: 42) STATUS: Shared memory created"},
		{"data", event.NewData("shm", "hello", "parent_write", 42), `[15:04:05] (PID: 42) DATA: "hello" (from parent_write)`},
		{"pipe data", event.NewData("pipes", "hello", "parent -> child", 7), "[15:04:05] (PID: 7) PARENT -> CHILD: hello"},
		{"pipe echo", event.NewData("pipes", "hello", "child -> parent (echo)", 7), "[15:04:05] (PID: 7) CHILD -> PARENT (ECHO): hello"},
		{"no source", event.NewData("socket_server", "x", "", 0), `[15:04:05] DATA: "x" (from N/A)`},
		{"error", event.NewError("socket_client", "connect failed", 9), "[15:04:05] (PID: 9) ERROR: connect failed"},
		{"empty error", event.NewError("pipes", "", 0), "[15:04:05] ERROR: unknown error"},
		{"raw", event.Event{Kind: event.KindRaw, Module: "pipes", Data: "not json"}, "[15:04:05] RAW: not json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Line(tc.in))
		})
	}

	r.Render(event.NewStatus("pipes", "setup", "Setting up pipes...", 1))
	assert.Equal(t, "[15:04:05] (PID: 1) STATUS: Setting up pipes...\n", out.String())
}
