package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExecutor records the dispatched argv and answers with a canned
// result.
type echoExecutor struct {
	lastArgv []string
	lastCWD  string
	exitCode int
	output   string
}

func (e *echoExecutor) Execute(ctx context.Context, argv []string, cwd string) (int, string) {
	e.lastArgv = argv
	e.lastCWD = cwd
	return e.exitCode, e.output
}

func startTestDaemon(t *testing.T, exec *echoExecutor) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	s := &Server{Port: port, Executor: exec, CWD: "/projects/app"}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.ListenAndServe(ctx) }()

	addr := s.Addr()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
	return addr
}

func roundTrip(t *testing.T, addr, request string) Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestDaemonDispatchesThroughFacade(t *testing.T) {
	exec := &echoExecutor{exitCode: 0, output: "myapp  8001  running\n"}
	addr := startTestDaemon(t, exec)

	resp := roundTrip(t, addr, `{"id":"1","argv":["server","status"]}`)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, exec.output, resp.Output, "daemon output matches what a one-shot run would print")
	assert.Equal(t, []string{"server", "status"}, exec.lastArgv)
	assert.Equal(t, "/projects/app", exec.lastCWD)
}

func TestDaemonAssignsIDWhenOmitted(t *testing.T) {
	addr := startTestDaemon(t, &echoExecutor{})

	resp := roundTrip(t, addr, `{"argv":["status"]}`)
	assert.NotEmpty(t, resp.ID, "missing id is auto-assigned")
}

func TestDaemonInvalidJSONIsUsageError(t *testing.T) {
	addr := startTestDaemon(t, &echoExecutor{})

	resp := roundTrip(t, addr, `{nope`)
	assert.Equal(t, 2, resp.ExitCode)
	assert.Contains(t, resp.Output, "invalid JSON")
}

func TestDaemonEmptyArgvIsUsageError(t *testing.T) {
	addr := startTestDaemon(t, &echoExecutor{})

	resp := roundTrip(t, addr, `{"id":"x","argv":[]}`)
	assert.Equal(t, "x", resp.ID)
	assert.Equal(t, 2, resp.ExitCode)
}

func TestDaemonSequentialConnections(t *testing.T) {
	exec := &echoExecutor{output: "ok"}
	addr := startTestDaemon(t, exec)

	for i := 0; i < 5; i++ {
		resp := roundTrip(t, addr, `{"id":"n","argv":["list"]}`)
		assert.Equal(t, 0, resp.ExitCode)
	}
}

func TestDaemonBindsLoopbackOnly(t *testing.T) {
	addr := startTestDaemon(t, &echoExecutor{})
	assert.True(t, strings.HasPrefix(addr, "127.0.0.1:"))
}
