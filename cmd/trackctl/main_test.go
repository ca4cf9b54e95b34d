package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/notification"
	"github.com/report-tracking-server/internal/repository"
	"github.com/report-tracking-server/internal/tracking"
)

const workflowYAML = `
definitions:
  - slug: sequencing
    name: Sequencing
    ordinal: 1
    tasks:
      - name: Library
        slug: library
        outcomeType: string
        checkInsTarget: 1
    next_state_on_status:
      complete:
        - slug: analysis
          status: active
  - slug: analysis
    name: Analysis
    ordinal: 2
    tasks:
      - name: Review
        slug: review
        outcomeType: boolean
        checkInsTarget: 2
hooks:
  - name: sequencing-done
    state_name: sequencing
    status: complete
    action: email
    target: lab@example.org
    payload:
      subject: "Sequencing complete"
      body: "done"
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestEngine(t *testing.T) (*tracking.Engine, *repository.MemoryStore) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	return tracking.NewEngine(store, notification.NewLogMailer(logger), logger, tracking.Options{}), store
}

func TestLoadWorkflowFile(t *testing.T) {
	wf, err := loadWorkflowFile(writeWorkflow(t, workflowYAML))
	require.NoError(t, err)

	require.Len(t, wf.Definitions, 2)
	seq := wf.Definitions[0]
	assert.Equal(t, "sequencing", seq.Slug)
	require.Len(t, seq.Tasks, 1)
	assert.Equal(t, domain.OutcomeString, seq.Tasks[0].OutcomeType)
	assert.Equal(t, []domain.NextStateTarget{{Slug: "analysis", Status: domain.StateActive}},
		seq.NextStateOnStatus[domain.StateComplete])
	assert.Equal(t, 2, wf.Definitions[1].Tasks[0].CheckInsTarget)

	require.Len(t, wf.Hooks, 1)
	hook := wf.Hooks[0].hook()
	assert.True(t, hook.Enabled, "hooks default to enabled")
	assert.Nil(t, hook.TaskName)
	assert.Equal(t, "Sequencing complete", hook.Payload.Subject)

	_, err = loadWorkflowFile(writeWorkflow(t, "definitions:\n  - slug: x\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = loadWorkflowFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestImportWorkflow(t *testing.T) {
	ctx := context.Background()
	wf, err := loadWorkflowFile(writeWorkflow(t, workflowYAML))
	require.NoError(t, err)

	t.Run("creates definitions and hooks", func(t *testing.T) {
		e, _ := newTestEngine(t)
		res, err := importWorkflow(ctx, e, wf, false)
		require.NoError(t, err)
		assert.Equal(t, importResult{Created: 2, Hooks: 1}, res)

		res, err = importWorkflow(ctx, e, wf, false)
		require.NoError(t, err)
		assert.Equal(t, importResult{Skipped: 2}, res, "a second import changes nothing")

		hooks, err := e.Hooks.List(ctx)
		require.NoError(t, err)
		assert.Len(t, hooks, 1)
	})

	t.Run("update overwrites existing definitions", func(t *testing.T) {
		e, _ := newTestEngine(t)
		_, err := importWorkflow(ctx, e, wf, false)
		require.NoError(t, err)

		changed := *wf
		changed.Definitions = append([]definitionEntry(nil), wf.Definitions...)
		changed.Definitions[1].Name = "Analysis Review"
		changed.Definitions[1].Tasks = []domain.TaskDefinition{
			{Name: "Review", Slug: "review", OutcomeType: domain.OutcomeBoolean, CheckInsTarget: 1},
			{Name: "Sign Off", Slug: "sign-off", CheckInsTarget: 1},
		}
		res, err := importWorkflow(ctx, e, &changed, true)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Updated)

		def, err := e.Definitions.Get(ctx, "analysis")
		require.NoError(t, err)
		assert.Equal(t, "Analysis Review", def.Name)
		assert.Len(t, def.Tasks, 2)
	})

	t.Run("assigns groups", func(t *testing.T) {
		e, store := newTestEngine(t)
		require.NoError(t, store.Groups().Create(ctx, &domain.Group{Ident: "lab", Name: "Lab"}))

		grouped := workflowFile{Definitions: []definitionEntry{wf.Definitions[0]}}
		grouped.Definitions[0].Group = "lab"
		_, err := importWorkflow(ctx, e, &grouped, false)
		require.NoError(t, err)

		def, err := e.Definitions.Get(ctx, "sequencing")
		require.NoError(t, err)
		require.NotNil(t, def.Group)
		assert.Equal(t, "Lab", def.Group.Name)

		grouped.Definitions[0].Group = "nobody"
		_, err = importWorkflow(ctx, e, &grouped, false)
		assert.Equal(t, domain.KindGroupNotFound, domain.KindOf(err))
	})

	t.Run("invalid definition stops the import", func(t *testing.T) {
		e, _ := newTestEngine(t)
		bad := workflowFile{Definitions: []definitionEntry{{Slug: "x", Name: "X"}}}
		_, err := importWorkflow(ctx, e, &bad, false)
		assert.Equal(t, domain.KindInvalidStateDefinition, domain.KindOf(err))
	})
}

func TestParseOutcome(t *testing.T) {
	assert.Nil(t, parseOutcome(""))
	assert.Equal(t, true, parseOutcome("true"))
	assert.Equal(t, "2024-01-02", parseOutcome(`"2024-01-02"`))
	assert.Equal(t, "pass", parseOutcome("pass"))
	assert.Equal(t, map[string]interface{}{"a": "b"}, parseOutcome(`{"a":"b"}`))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tracking.db")
	file := writeWorkflow(t, workflowYAML)

	out, err := execute(t, "--sqlite", db, "definitions", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "definitions: 2 created")
	assert.Contains(t, out, "hooks: 1 created")

	out, err = execute(t, "--sqlite", db, "definitions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sequencing")
	assert.Contains(t, out, "analysis")
	assert.Less(t, strings.Index(out, "sequencing"), strings.Index(out, "analysis"), "ordered by ordinal")

	out, err = execute(t, "--sqlite", db, "hooks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sequencing-done")

	_, err = execute(t, "--sqlite", db, "migrate", "up")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("REPORT_TRACKING_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("REPORT_TRACKING_AUTH_ISSUER", "report-tracking")

	out, err := execute(t, "token", "jdoe", "--ttl", "1h")
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", claims.Subject)
	assert.Equal(t, "report-tracking", claims.Issuer)
}
