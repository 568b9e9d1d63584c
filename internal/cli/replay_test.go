package cli

import (
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/claimgov/internal/store"
)

func TestReplayAfterRun(t *testing.T) {
	for _, driver := range []string{store.DriverSQLite, store.DriverJSONL} {
		t.Run(driver, func(t *testing.T) {
			env := newTestEnv(t, driver)
			runDemo(t, env)

			out, err := execute(NewReplayCommand(env.rootOpts("text")))
			require.NoError(t, err)

			assert.Contains(t, out, "Replay Summary: 5 entries, head seq 5")
			assert.Contains(t, out, "✓ claim-001: superseded (version 3)")
			assert.Contains(t, out, "✓ Chain intact, all claims consistent")
		})
	}
}

func TestReplayEmptyLog(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)

	out, err := execute(NewReplayCommand(env.rootOpts("text")))
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 0 entries, head seq 0")
	assert.Contains(t, out, "No claims found in log.")
}

func TestReplayJSON(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)
	runDemo(t, env)

	out, err := execute(NewReplayCommand(env.rootOpts("json")), "--claim", "claim-001")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllConsistent)
	assert.Equal(t, int64(5), resp.Data.HeadSeq)
	require.Len(t, resp.Data.Claims, 1)
	assert.Equal(t, resp.Data.Claims[0].ClaimView, resp.Data.Claims[0].Logged)
}

func TestReplayUnknownClaim(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)
	runDemo(t, env)

	_, err := execute(NewReplayCommand(env.rootOpts("text")), "--claim", "claim-999")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	env := newTestEnv(t, store.DriverSQLite)
	runDemo(t, env)

	db, err := sql.Open("sqlite3", env.logPath)
	require.NoError(t, err)
	_, err = db.Exec("DROP TRIGGER transition_log_no_update")
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE transition_log SET reasons = '["authority: ok"]' WHERE seq = 3`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(NewReplayCommand(env.rootOpts("text")))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ seq 3: content does not match hash")
	assert.Contains(t, out, "✗ Hash chain broken")
}
