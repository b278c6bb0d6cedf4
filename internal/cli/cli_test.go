package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/studystore/pkg/rdb"
	"github.com/mesh-intelligence/studystore/pkg/studystore"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

// testEnv is an isolated config and data directory pair.
type testEnv struct {
	configDir string
	dataDir   string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	return testEnv{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
	}
}

// run invokes the CLI in-process with the env's directories.
func (e testEnv) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...)
	code = run(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), code
}

// mustRun fails the test unless the command exits 0.
func (e testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := e.run(t, args...)
	require.Equal(t, exitSuccess, code, "args %v\nstderr: %s", args, stderr)
	return stdout
}

// seed writes a study with a complete and a running trial directly through
// the storage API.
func (e testEnv) seed(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	storage := rdb.NewBackend(rdb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, storage.Attach(ctx, types.Config{Backend: types.BackendSQLite, DataDir: e.dataDir}))
	defer storage.Detach()
	s, err := storage.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetStudyUserAttr(ctx, studyID, "owner", "ada"))

	done, err := s.CreateTrial(ctx, studyID)
	require.NoError(t, err)
	require.NoError(t, s.SetTrialParamDistribution(ctx, done, "x", types.UniformDistribution{Low: 0, High: 1}))
	require.NoError(t, s.SetTrialParam(ctx, done, "x", 0.5))
	require.NoError(t, s.SetTrialIntermediateValue(ctx, done, 1, 0.7))
	require.NoError(t, s.SetTrialValue(ctx, done, 0.25))
	require.NoError(t, s.SetTrialState(ctx, done, types.StateComplete))

	_, err = s.CreateTrial(ctx, studyID)
	require.NoError(t, err)
	return studyID
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "version")
	assert.Contains(t, out, "studystore v"+studystore.Version)
	assert.Contains(t, out, studystore.ModulePath)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "version")), &got))
	assert.Equal(t, studystore.Version, got["version"])
	assert.EqualValues(t, 1, got["schema_version"])
}

func TestInit(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "init")
	assert.Contains(t, out, "studystore initialized (sqlite, schema 1")

	_, err := os.Stat(filepath.Join(env.configDir, configFileExt))
	assert.NoError(t, err, "config.yaml should be written")
	_, err = os.Stat(filepath.Join(env.dataDir, types.SQLiteFileName))
	assert.NoError(t, err, "database file should be created")

	// A second init finds the existing store compatible.
	env.mustRun(t, "init")
}

func TestInit_ConfigFileDataDir(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	dataDir := filepath.Join(root, "from-config")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, configFileExt),
		[]byte(fmt.Sprintf("backend: sqlite\ndata_dir: %s\n", dataDir)), 0o644))

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--config-dir", configDir, "init"}, &out, &errOut)
	require.Equal(t, exitSuccess, code, errOut.String())

	_, err := os.Stat(filepath.Join(dataDir, types.SQLiteFileName))
	assert.NoError(t, err)
}

func TestBackendSelection(t *testing.T) {
	t.Run("env overrides file", func(t *testing.T) {
		env := newTestEnv(t)
		t.Setenv("STUDYSTORE_BACKEND", "oracle")
		_, stderr, code := env.run(t, "init")
		assert.Equal(t, exitUserError, code)
		assert.Contains(t, stderr, "Error:")
	})

	t.Run("flag overrides env", func(t *testing.T) {
		env := newTestEnv(t)
		t.Setenv("STUDYSTORE_BACKEND", "oracle")
		env.mustRun(t, "--backend", "sqlite", "init")
	})

	t.Run("postgres needs a dsn", func(t *testing.T) {
		env := newTestEnv(t)
		_, _, code := env.run(t, "--backend", "postgres", "init")
		assert.Equal(t, exitUserError, code)
	})
}

func TestLogLevel_Invalid(t *testing.T) {
	env := newTestEnv(t)
	_, stderr, code := env.run(t, "--log-level", "loud", "version")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, stderr, "invalid log level")
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "schema")
	assert.Contains(t, out, "CREATE TABLE")
	assert.Contains(t, out, "AUTOINCREMENT")

	out = env.mustRun(t, "schema", "--dialect", "postgres")
	assert.Contains(t, out, "CREATE TABLE")
	assert.NotContains(t, out, "AUTOINCREMENT")

	_, _, code := env.run(t, "schema", "--dialect", "oracle")
	assert.Equal(t, exitUserError, code)

	_, err := os.Stat(filepath.Join(env.dataDir, types.SQLiteFileName))
	assert.True(t, os.IsNotExist(err), "schema must not open the database")
}

func TestStudyCommands(t *testing.T) {
	env := newTestEnv(t)

	var created struct {
		StudyID   int64  `json:"study_id"`
		StudyUUID string `json:"study_uuid"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "study", "create")), &created))
	assert.Equal(t, int64(1), created.StudyID)
	assert.NotEmpty(t, created.StudyUUID)

	out := env.mustRun(t, "study", "create")
	assert.Contains(t, out, "created study 2")

	env.mustRun(t, "study", "set-attr", "1", "lr", "0.01")
	env.mustRun(t, "study", "set-attr", created.StudyUUID, "owner", "ada")
	env.mustRun(t, "study", "set-attr", "--system", "1", "direction", "minimize")

	var detail studyDetail
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "study", "show", "1")), &detail))
	assert.Equal(t, created.StudyUUID, detail.StudyUUID)
	assert.Equal(t, 0.01, detail.UserAttrs["lr"])
	assert.Equal(t, "ada", detail.UserAttrs["owner"])
	assert.Equal(t, map[string]any{"direction": "minimize"}, detail.UserAttrs[types.SystemAttrsKey])
	assert.Nil(t, detail.BestTrialID)

	out = env.mustRun(t, "study", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "UUID")
	assert.Contains(t, lines[1], created.StudyUUID)

	var listed []types.StudySummary
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "study", "list")), &listed))
	assert.Len(t, listed, 2)
}

func TestStudyList_Empty(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, "[]\n", env.mustRun(t, "--json", "study", "list"))
}

func TestStudyShow_BestTrial(t *testing.T) {
	env := newTestEnv(t)
	studyID := env.seed(t)

	out := env.mustRun(t, "study", "show", fmt.Sprint(studyID))
	assert.Contains(t, out, "trials: 2")
	assert.Contains(t, out, "best: trial 1, value 0.25")
	assert.Contains(t, out, "attr owner = ada")
}

func TestStudySetAttr_ReservedKey(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "study", "create")
	_, _, code := env.run(t, "study", "set-attr", "1", types.SystemAttrsKey, "{}")
	assert.Equal(t, exitUserError, code)
}

func TestTrialCommands(t *testing.T) {
	env := newTestEnv(t)
	studyID := env.seed(t)

	out := env.mustRun(t, "trial", "list", "--study", fmt.Sprint(studyID))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "COMPLETE")
	assert.Contains(t, lines[1], "0.25")
	assert.Contains(t, lines[2], "RUNNING")

	var running []types.Trial
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "trial", "list", "--study", "1", "--state", "RUNNING")), &running))
	require.Len(t, running, 1)
	assert.Equal(t, int64(2), running[0].TrialID)

	var trial map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "trial", "show", "1")), &trial))
	assert.Equal(t, "COMPLETE", trial["state"])
	assert.Equal(t, map[string]any{"x": 0.5}, trial["params"])
	assert.Equal(t, map[string]any{"1": 0.7}, trial["intermediate_values"])

	_, _, code := env.run(t, "trial", "list")
	assert.Equal(t, exitUserError, code, "--study is required")
	_, _, code = env.run(t, "trial", "list", "--study", "1", "--state", "DONE")
	assert.Equal(t, exitUserError, code)
}

func TestExportImport(t *testing.T) {
	env := newTestEnv(t)
	studyID := env.seed(t)
	file := filepath.Join(t.TempDir(), "study.jsonl")

	out := env.mustRun(t, "export", "--study", fmt.Sprint(studyID), "--out", file)
	assert.Contains(t, out, "(2 trials)")

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "--json", "import", "--in", file)), &sum))
	assert.EqualValues(t, 2, sum["study_id"])
	assert.EqualValues(t, 2, sum["trials"])
	assert.EqualValues(t, 0, sum["skipped"])

	out = env.mustRun(t, "study", "show", "2")
	assert.Contains(t, out, "trials: 2")
	assert.Contains(t, out, "best: trial 3, value 0.25")

	_, _, code := env.run(t, "export", "--study", "1")
	assert.Equal(t, exitUserError, code, "--out is required")
}

func TestImport_MalformedFile(t *testing.T) {
	env := newTestEnv(t)
	file := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(`{"kind":"trial"}`+"\n"), 0o644))

	_, _, code := env.run(t, "import", "--in", file)
	assert.Equal(t, exitUserError, code)
}

func TestExitCodes(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "init")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown study id", []string{"study", "show", "99"}, exitUserError},
		{"unknown study uuid", []string{"study", "show", "not-a-uuid"}, exitUserError},
		{"bad trial id", []string{"trial", "show", "x"}, exitUserError},
		{"unknown trial", []string{"trial", "show", "7"}, exitUserError},
		{"missing argument", []string{"study", "show"}, exitUserError},
		{"unknown flag", []string{"study", "list", "--bogus"}, exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := env.run(t, tt.args...)
			assert.Equal(t, tt.want, code)
			assert.True(t, strings.HasPrefix(stderr, "Error:"), stderr)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitUserError, exitCode(usagef("bad")))
	assert.Equal(t, exitUserError, exitCode(fmt.Errorf("wrapped: %w", types.ErrNotFound)))
	assert.Equal(t, exitUserError, exitCode(fmt.Errorf("wrapped: %w", types.ErrInvalidValue)))
	assert.Equal(t, exitSysError, exitCode(io.ErrUnexpectedEOF))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 3.0, parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, []any{"a"}, parseValue(`["a"]`))
	assert.Equal(t, "plain text", parseValue("plain text"))
}
