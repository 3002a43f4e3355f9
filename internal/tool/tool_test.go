package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolCtx(workDir string) *Context {
	return &Context{
		UserKey: "user-1",
		WorkDir: workDir,
		AbortCh: make(chan struct{}),
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestReadTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("line one\nline two\n"), 0644))

	res, err := NewReadTool(dir).Execute(context.Background(),
		mustJSON(t, ReadInput{FilePath: "hello.txt"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "00001| line one")
	assert.Contains(t, res.Output, "00002| line two")
	assert.Contains(t, res.Output, "End of file")
}

func TestReadToolPagination(t *testing.T) {
	dir := t.TempDir()
	content := ""
	for i := 1; i <= 10; i++ {
		content += "row\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(content), 0644))

	res, err := NewReadTool(dir).Execute(context.Background(),
		mustJSON(t, ReadInput{FilePath: "big.txt", Offset: 3, Limit: 2}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "00003| row")
	assert.Contains(t, res.Output, "00004| row")
	assert.NotContains(t, res.Output, "00005|")
	assert.Contains(t, res.Output, "File has more lines")
}

func TestReadToolRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := NewReadTool(dir).Execute(context.Background(),
		mustJSON(t, ReadInput{FilePath: "../../etc/passwd"}), toolCtx(dir))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestReadToolBlocksEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=x"), 0644))

	_, err := NewReadTool(dir).Execute(context.Background(),
		mustJSON(t, ReadInput{FilePath: ".env"}), toolCtx(dir))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.sample"), []byte("SECRET="), 0644))
	_, err = NewReadTool(dir).Execute(context.Background(),
		mustJSON(t, ReadInput{FilePath: ".env.sample"}), toolCtx(dir))
	assert.NoError(t, err)
}

func TestWriteToolCreatesParents(t *testing.T) {
	dir := t.TempDir()

	res, err := NewWriteTool(dir).Execute(context.Background(),
		mustJSON(t, WriteInput{FilePath: "nested/dir/out.txt", Content: "payload"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "7 bytes")

	data, err := os.ReadFile(filepath.Join(dir, "nested", "dir", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestWriteToolRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := NewWriteTool(dir).Execute(context.Background(),
		mustJSON(t, WriteInput{FilePath: "../outside.txt", Content: "x"}), toolCtx(dir))
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestListTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0644))

	res, err := NewListTool(dir).Execute(context.Background(),
		mustJSON(t, ListInput{}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "[dir ] src")
	assert.Contains(t, res.Output, "[file] main.go")
	assert.NotContains(t, res.Output, "node_modules")
}

func TestBashToolRunsInWorkspace(t *testing.T) {
	dir := t.TempDir()

	res, err := NewBashTool(dir).Execute(context.Background(),
		mustJSON(t, BashInput{Command: "pwd", Description: "print cwd"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, filepath.Base(dir))
	assert.Equal(t, 0, res.Metadata["exit"])
}

func TestBashToolCapturesExitCode(t *testing.T) {
	dir := t.TempDir()

	res, err := NewBashTool(dir).Execute(context.Background(),
		mustJSON(t, BashInput{Command: "exit 3", Description: "fail"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Metadata["exit"])
}

func TestBashToolRejectsOutsidePaths(t *testing.T) {
	dir := t.TempDir()

	_, err := NewBashTool(dir).Execute(context.Background(),
		mustJSON(t, BashInput{Command: "rm -rf /etc/passwd", Description: "nope"}), toolCtx(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the workspace")
}

func TestBashToolAllowsWorkspacePaths(t *testing.T) {
	dir := t.TempDir()

	res, err := NewBashTool(dir).Execute(context.Background(),
		mustJSON(t, BashInput{Command: "mkdir sub && touch sub/file.txt", Description: "make files"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Metadata["exit"])

	_, statErr := os.Stat(filepath.Join(dir, "sub", "file.txt"))
	assert.NoError(t, statErr)
}

func TestBashToolTimeout(t *testing.T) {
	dir := t.TempDir()

	res, err := NewBashTool(dir).Execute(context.Background(),
		mustJSON(t, BashInput{Command: "sleep 5", Timeout: 100, Description: "slow"}), toolCtx(dir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "timed out")
}

func TestParseShellCommands(t *testing.T) {
	cmds, err := parseShellCommands("git status && rm -f old.txt | grep x")
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "git", cmds[0].Name)
	assert.Equal(t, "rm", cmds[1].Name)
	assert.Equal(t, []string{"-f", "old.txt"}, cmds[1].Args)
	assert.Equal(t, "grep", cmds[2].Name)
}

func TestCheckCommandPathsUnparseable(t *testing.T) {
	err := checkCommandPaths("if then fi ((", "/tmp")
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	got, err := resolvePath("/work", "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/work/sub/file.txt", got)

	got, err = resolvePath("/work", "")
	require.NoError(t, err)
	assert.Equal(t, "/work", got)

	_, err = resolvePath("/work", "../other")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)

	_, err = resolvePath("/work", "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil)
	assert.ElementsMatch(t, []string{"read", "write", "list", "bash", "webfetch"}, r.IDs())

	r = DefaultRegistry(t.TempDir(), map[string]bool{"webfetch": false, "bash": false})
	assert.ElementsMatch(t, []string{"read", "write", "list"}, r.IDs())

	_, ok := r.Get("bash")
	assert.False(t, ok)
	infos := r.ToolInfos()
	assert.Len(t, infos, 3)
}
