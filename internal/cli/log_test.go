package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
)

func TestLogListsEveryAttempt(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)
	runDemo(t, env)

	out, err := execute(NewLogCommand(env.rootOpts("text")))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[1], "allow   claim-001  ev-002-supported  proposed -> supported  attempt=1")
	assert.Contains(t, lines[3], "allow   claim-001  ev-003-contradicted  supported -> contradicted  attempt=2")
	assert.NotContains(t, out, "self-approval")
}

func TestLogDenied(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)
	runDemo(t, env)

	out, err := execute(NewLogCommand(env.rootOpts("text")), "--denied")
	require.NoError(t, err)

	assert.Contains(t, out, "   1  skip    claim-001  ev-001-proposed")
	assert.Contains(t, out, "   3  deny    claim-001  ev-003-contradicted  supported -> contradicted  attempt=1")
	assert.Contains(t, out, "        authority: submitter alice is also an approver (self-approval)")
	assert.NotContains(t, out, "allow")
}

func TestLogJSONFiltersClaim(t *testing.T) {
	env := newTestEnv(t, store.DriverJSONL)
	runDemo(t, env)

	out, err := execute(NewLogCommand(env.rootOpts("json")), "--claim", "claim-001", "--denied")
	require.NoError(t, err)

	var resp struct {
		Data []model.LogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, model.OutcomeSkip, resp.Data[0].Outcome)
	assert.Equal(t, model.StageAuthority, resp.Data[1].Decision.FailedStage)
}

func TestLogEmpty(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)

	out, err := execute(NewLogCommand(env.rootOpts("text")))
	require.NoError(t, err)
	assert.Equal(t, "No entries.\n", out)
}
