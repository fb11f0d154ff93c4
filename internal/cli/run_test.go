package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SingleNodeEcho(t *testing.T) {
	path := writeDef(t, validDef)

	stdout, _, err := execute(t, "run", path, "--input", "hello")
	require.NoError(t, err)
	assert.Contains(t, stdout, "echo:hello")
}

func TestRun_JSONOutput(t *testing.T) {
	path := writeDef(t, validDef)

	stdout, _, err := execute(t, "--format", "json", "run", path, "--input", "hello", "--request", "req-json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result RunResult
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "assistant_workflow", result.Workflow)
	assert.Equal(t, "req-json", result.RequestID)
	require.Len(t, result.Output, 1)
	assert.Equal(t, "echo:hello", result.Output[0].Content)
}

func TestRun_PersistsToDatabase(t *testing.T) {
	path := writeDef(t, validDef)
	db := filepath.Join(t.TempDir(), "flume.db")

	_, _, err := execute(t, "run", path, "--db", db, "--input", "hello", "--request", "req-1")
	require.NoError(t, err)

	// The recorded log is visible to trace.
	stdout, _, err := execute(t, "trace", "--db", db, "--request", "req-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "workflow_input@0")
	assert.Contains(t, stdout, "Status: responded")
}

func TestRun_HumanInputPauseAndResumeAcrossProcesses(t *testing.T) {
	def := `
name: review
topics:
  - name: approval
    kind: human_input
nodes:
  - name: ask
    handler: echo
    prefix: "question:"
    subscribes: [workflow_input]
    publishes: [approval, workflow_output]
  - name: approve
    handler: static
    reply: "approved"
    subscribes: [approval]
    publishes: [workflow_output]
`
	path := writeDef(t, def)
	db := filepath.Join(t.TempDir(), "flume.db")

	// First run pauses at the approval topic.
	stdout, _, err := execute(t, "run", path, "--db", db, "--input", "deploy?", "--request", "req-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "question:deploy?")
	assert.NotContains(t, stdout, "approved")

	traceOut, _, err := execute(t, "trace", "--db", db, "--request", "req-1")
	require.NoError(t, err)
	assert.Contains(t, traceOut, "approval@0")

	// Second invocation of the same request id carries the human answer.
	stdout, _, err = execute(t, "run", path, "--db", db, "--input", "yes", "--request", "req-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "approved")
}

func TestRun_InvalidDefinitionFails(t *testing.T) {
	path := writeDef(t, "name: wf\nnodes: []\n")

	stdout, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, strings.Contains(stdout, "Error"), "expected error output, got %q", stdout)
}

func TestValidateCommand(t *testing.T) {
	good := writeDef(t, validDef)
	stdout, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "valid")

	bad := writeDef(t, `
name: wf
nodes:
  - name: a
    handler: telepathy
    subscribes: [workflow_input]
`)
	_, _, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
