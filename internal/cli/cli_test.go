package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upcheck/internal/cli"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// isolate points the store at a fresh directory and returns a scratch directory
// for manifests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("UPCHECK_STORE_DIR", filepath.Join(dir, "state"))
	t.Setenv("UPCHECK_STORE_BACKEND", "file")
	t.Setenv("UPCHECK_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.Run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const inputsV1 = `
work: compileJava
properties:
  Sources:
    - {location: /src/A.java, path: A.java, kind: regular, digest: "01"}
    - {location: /src/B.java, path: B.java, kind: regular, digest: "02"}
`

const inputsV2 = `
work: compileJava
properties:
  Sources:
    - {location: /src/A.java, path: A.java, kind: regular, digest: "11"}
    - {location: /src/B.java, path: B.java, kind: regular, digest: "02"}
`

func TestDiff(t *testing.T) {
	dir := isolate(t)
	prev := write(t, dir, "prev.yaml", `
entries:
  - {location: /src/A.java, path: A.java, kind: regular, digest: "01"}
  - {location: /src/B.java, path: B.java, kind: regular, digest: "02"}
`)
	cur := write(t, dir, "cur.yaml", `
entries:
  - {location: /src/A.java, path: A.java, kind: regular, digest: "03"}
  - {location: /src/C.java, path: C.java, kind: regular, digest: "04"}
`)

	r := run(t, "diff", "--property", "Sources", prev, cur)
	assert.Equal(t, cli.ExitChanged, r.code, r.stderr)
	assert.Equal(t, strings.Join([]string{
		"Sources file /src/A.java has been modified.",
		"Sources file /src/B.java has been removed.",
		"Sources file /src/C.java has been added.",
	}, "\n")+"\n", r.stdout)

	r = run(t, "diff", "--property", "Sources", "--limit", "2", prev, cur)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "Sources file /src/A.java has been modified.\nSources file /src/B.java has been removed.\n", r.stdout)

	r = run(t, "diff", "--include-added=false", prev, cur)
	assert.NotContains(t, r.stdout, "added")

	r = run(t, "diff", prev, prev)
	assert.Equal(t, cli.ExitSuccess, r.code)
	assert.Empty(t, r.stdout)
}

func TestDiff_Summary(t *testing.T) {
	dir := isolate(t)
	prev := write(t, dir, "prev.yaml", "entries: [{path: a, kind: regular, digest: '01'}, {path: b, kind: regular, digest: '02'}]\n")
	cur := write(t, dir, "cur.yaml", "entries: [{path: a, kind: regular, digest: '03'}]\n")

	r := run(t, "diff", "--limit", "1", "--summary", prev, cur)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "Input file a has been modified.\n0 added, 0 removed, 1 modified\n(stopped at --limit)\n", r.stdout)
}

func TestDiff_LimitEqualToChangeCount(t *testing.T) {
	dir := isolate(t)
	prev := write(t, dir, "prev.yaml", "entries: [{path: a, kind: regular, digest: '01'}, {path: b, kind: regular, digest: '02'}]\n")
	cur := write(t, dir, "cur.yaml", "entries: [{path: a, kind: regular, digest: '03'}]\n")

	r := run(t, "diff", "--limit", "2", "--summary", prev, cur)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "Input file a has been modified.\nInput file b has been removed.\n0 added, 1 removed, 1 modified\n", r.stdout)
}

func TestDiff_MovedFilesAreUnchanged(t *testing.T) {
	dir := isolate(t)
	prev := write(t, dir, "prev.yaml", "entries: [{location: /old/a, path: a, kind: regular, digest: '01'}]\n")
	cur := write(t, dir, "cur.yaml", "entries: [{location: /new/a, path: a, kind: regular, digest: '01'}]\n")

	r := run(t, "diff", prev, cur)
	assert.Equal(t, cli.ExitSuccess, r.code)
	assert.Empty(t, r.stdout)
}

func TestDigest_IgnoresOrderAndLocation(t *testing.T) {
	dir := isolate(t)
	a := write(t, dir, "a.yaml", "entries: [{location: /x/a, path: a, kind: regular, digest: '01'}, {path: b, kind: dir}]\n")
	b := write(t, dir, "b.yaml", "entries: [{path: b, kind: dir}, {location: /y/a, path: a, kind: regular, digest: '01'}]\n")

	ra := run(t, "digest", a)
	rb := run(t, "digest", b)
	require.Equal(t, cli.ExitSuccess, ra.code, ra.stderr)
	assert.Equal(t, ra.stdout, rb.stdout)
	assert.Len(t, strings.TrimSpace(ra.stdout), 64)

	rx := run(t, "digest", "--algorithm", "xxhash64", a)
	assert.Len(t, strings.TrimSpace(rx.stdout), 16)

	r := run(t, "digest", "--algorithm", "md5", a)
	assert.Equal(t, cli.ExitInvalidInvocation, r.code)
}

func TestCheckAndRecord(t *testing.T) {
	dir := isolate(t)
	v1 := write(t, dir, "v1.yaml", inputsV1)
	v2 := write(t, dir, "v2.yaml", inputsV2)

	r := run(t, "check", v1)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "compileJava is out of date:\n  No history is available.\n", r.stdout)

	r = run(t, "record", v1)
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)

	r = run(t, "check", v1)
	assert.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "compileJava is up to date.\n", r.stdout)

	r = run(t, "check", v2)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Contains(t, r.stdout, "Sources file /src/A.java has been modified.")

	r = run(t, "check", "--record", v2)
	assert.Equal(t, cli.ExitChanged, r.code)
	r = run(t, "check", v2)
	assert.Equal(t, cli.ExitSuccess, r.code)
}

func TestCheck_MaxReasons(t *testing.T) {
	dir := isolate(t)
	v1 := write(t, dir, "v1.yaml", inputsV1)
	empty := write(t, dir, "empty.yaml", "work: compileJava\nproperties: {Sources: []}\n")
	require.Equal(t, cli.ExitSuccess, run(t, "record", v1).code)

	r := run(t, "check", "--max-reasons", "1", empty)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "compileJava is out of date:\n  Sources file /src/A.java has been removed.\n  (further changes not listed)\n", r.stdout)
}

func TestCheck_MaxReasonsEqualToChangeCount(t *testing.T) {
	dir := isolate(t)
	v1 := write(t, dir, "v1.yaml", inputsV1)
	empty := write(t, dir, "empty.yaml", "work: compileJava\nproperties: {Sources: []}\n")
	require.Equal(t, cli.ExitSuccess, run(t, "record", v1).code)

	r := run(t, "check", "--max-reasons", "2", empty)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "compileJava is out of date:\n  Sources file /src/A.java has been removed.\n  Sources file /src/B.java has been removed.\n", r.stdout)
	assert.NotContains(t, r.stdout, "further changes")
}

func TestCheck_BadgerBackend(t *testing.T) {
	dir := isolate(t)
	t.Setenv("UPCHECK_STORE_BACKEND", "badger")
	v1 := write(t, dir, "v1.yaml", inputsV1)

	require.Equal(t, cli.ExitSuccess, run(t, "record", v1).code)
	r := run(t, "check", v1)
	assert.Equal(t, cli.ExitSuccess, r.code, r.stderr)

	r = run(t, "history", "list")
	assert.Equal(t, "compileJava\n", r.stdout)
}

func TestHistory(t *testing.T) {
	dir := isolate(t)
	require.Equal(t, cli.ExitSuccess, run(t, "record", write(t, dir, "v1.yaml", inputsV1)).code)

	r := run(t, "history", "list")
	assert.Equal(t, "compileJava\n", r.stdout)

	r = run(t, "history", "show", "compileJava")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "work:        compileJava\n")
	assert.Contains(t, r.stdout, "  Sources: 2 entries\n")

	r = run(t, "history", "show", "jar")
	assert.Equal(t, cli.ExitInvalidInvocation, r.code)
}

func TestMetricsAndTraceFiles(t *testing.T) {
	dir := isolate(t)
	metricsFile := filepath.Join(dir, "upcheck.prom")
	traceFile := filepath.Join(dir, "out", "trace.json")
	t.Setenv("UPCHECK_METRICS_FILE", metricsFile)
	t.Setenv("UPCHECK_TRACE_FILE", traceFile)

	run(t, "check", write(t, dir, "v1.yaml", inputsV1))

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `upcheck_decisions_total{outcome="out_of_date"} 1`)

	raw, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	var tr struct {
		Subject string `json:"subject"`
		Events  []struct {
			Kind   string `json:"kind"`
			Work   string `json:"work"`
			Reason string `json:"reason"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &tr))
	assert.Equal(t, "upcheck check", tr.Subject)
	require.Len(t, tr.Events, 1)
	assert.Equal(t, "WorkOutOfDate", tr.Events[0].Kind)
	assert.Equal(t, "NoHistory", tr.Events[0].Reason)
}

func TestPipeline(t *testing.T) {
	dir := isolate(t)
	pipeline := write(t, dir, "pipeline.yaml", `
name: shout
steps:
  - name: upper
    run: "echo ran >> runs.log; tr a-z A-Z"
    env: {PATH: /usr/bin:/bin}
  - name: bang
    run: "sed 's/$/!/'"
    env: {PATH: /usr/bin:/bin}
`)
	source := write(t, dir, "source.txt", "hello\n")
	out := filepath.Join(dir, "out.txt")

	r := run(t, "pipeline", "status", pipeline, source)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Equal(t, "out of date\n", r.stdout)

	r = run(t, "pipeline", "run", "-o", out, pipeline, source)
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "HELLO!\n", string(got))

	r = run(t, "pipeline", "run", pipeline, source)
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "HELLO!\n", r.stdout)

	runs, err := os.ReadFile(filepath.Join(dir, "runs.log"))
	require.NoError(t, err)
	assert.Equal(t, "ran\n", string(runs), "the cached stage must not run again")

	r = run(t, "pipeline", "status", pipeline, source)
	assert.Equal(t, cli.ExitSuccess, r.code)
	assert.Equal(t, "up to date\n", r.stdout)
}

func TestPipeline_FailingStep(t *testing.T) {
	dir := isolate(t)
	pipeline := write(t, dir, "pipeline.yaml", "steps: [{name: broken, run: 'echo boom >&2; exit 3'}]\n")
	source := write(t, dir, "source.txt", "x")

	r := run(t, "pipeline", "run", pipeline, source)
	assert.Equal(t, cli.ExitChanged, r.code)
	assert.Contains(t, r.stderr, `step "broken" exited with code 3: boom`)
}

func TestInvalidInvocations(t *testing.T) {
	dir := isolate(t)
	bad := write(t, dir, "bad.yaml", "entries: [{path: a, kind: socket}]\n")

	cases := map[string][]string{
		"unknown command": {"frobnicate"},
		"unknown flag":    {"diff", "--nope", "a", "b"},
		"missing args":    {"diff", "a"},
		"invalid":         {"digest", bad},
		"missing file":    {"digest", filepath.Join(dir, "absent.yaml")},
		"negative limit":  {"diff", "--limit", "-1", bad, bad},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			r := run(t, args...)
			assert.Equal(t, cli.ExitInvalidInvocation, r.code, r.stderr)
			assert.NotEmpty(t, r.stderr)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	dir := isolate(t)
	cfg := write(t, dir, "upcheck.yaml", "max_reasons: -2\n")

	r := run(t, "--config", cfg, "history", "list")
	assert.Equal(t, cli.ExitConfigError, r.code)
	assert.Contains(t, r.stderr, "max_reasons")

	r = run(t, "--config", filepath.Join(dir, "absent.yaml"), "history", "list")
	assert.Equal(t, cli.ExitConfigError, r.code)
}
