package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hatdata/internal/repository"
	"github.com/roach88/hatdata/internal/schema"
	"github.com/roach88/hatdata/internal/storage/sqlite"
	"github.com/roach88/hatdata/internal/testutil"
)

const fooYAML = `name: Foo
model:
  idProperty: foo
  displayProperty: bar
  properties:
    - name: foo
      type: int
    - name: bar
      type: string
    - name: baz
      type: bool
      mapping: baz.test.val
repository: sqlite
`

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedDB saves n Foo records into a new SQLite file under dir.
func seedDB(t *testing.T, dir, name string, n int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	adapter, err := sqlite.Open(path)
	require.NoError(t, err)

	s, err := schema.Load(bytes.NewReader([]byte(fooYAML)))
	require.NoError(t, err)
	repo, err := repository.New(s, repository.WithAdapter(adapter))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, repo.Load(ctx))
	_, err = repo.AddMultiple(ctx, testutil.FooRecords(n))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx))
	require.NoError(t, repo.Destroy())
	return path
}

// loadDB reads back the Foo records stored in path.
func loadDB(t *testing.T, path string) *repository.Repository {
	t.Helper()
	adapter, err := sqlite.Open(path)
	require.NoError(t, err)
	s, err := schema.Load(bytes.NewReader([]byte(fooYAML)))
	require.NoError(t, err)
	repo, err := repository.New(s, repository.WithAdapter(adapter))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Destroy() })
	require.NoError(t, repo.Load(context.Background()))
	return repo
}

// execute runs the root command with args and returns stdout and stderr.
func execute(args ...string) (string, string, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
