package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/storage"
)

func newTestProvisioner(t *testing.T) (*Provisioner, string) {
	t.Helper()
	root := t.TempDir()
	store := storage.New(filepath.Join(root, "manifests"))
	return NewProvisioner(filepath.Join(root, "workspaces"), store, 5*time.Second), root
}

func newTestSession(t *testing.T, userKey string) *session.Session {
	t.Helper()
	reg := session.NewRegistry(session.Config{}, session.ExecutorFunc(
		func(ctx context.Context, job session.Job, events session.StreamEvents) (string, error) {
			return "", nil
		}), func(key string) string { return "sprite-" + key })
	t.Cleanup(reg.Shutdown)
	return reg.GetOrCreate(userKey)
}

func TestProvisionCreatesWorkspace(t *testing.T) {
	p, _ := newTestProvisioner(t)
	s := newTestSession(t, "alice")

	require.NoError(t, p.Provision(context.Background(), s))

	dir, ready := s.Workspace()
	assert.True(t, ready)
	assert.Equal(t, p.DirFor("sprite-alice"), dir)

	// The skeleton is seeded with the welcome file.
	_, err := os.Stat(filepath.Join(dir, welcomeFile))
	assert.NoError(t, err)

	m, err := p.Manifest(context.Background(), "sprite-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.UserKey)
	assert.Equal(t, dir, m.Path)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestReprovisionIsNoOp(t *testing.T) {
	p, _ := newTestProvisioner(t)
	s := newTestSession(t, "alice")
	ctx := context.Background()

	require.NoError(t, p.Provision(ctx, s))
	first, err := p.Manifest(ctx, "sprite-alice")
	require.NoError(t, err)

	// A user-modified welcome file survives re-provisioning.
	dir, _ := s.Workspace()
	require.NoError(t, os.WriteFile(filepath.Join(dir, welcomeFile), []byte("edited"), 0644))

	require.NoError(t, p.Provision(ctx, s))
	content, err := os.ReadFile(filepath.Join(dir, welcomeFile))
	require.NoError(t, err)
	assert.Equal(t, "edited", string(content))

	second, err := p.Manifest(ctx, "sprite-alice")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestResumeIDRoundTrip(t *testing.T) {
	p, _ := newTestProvisioner(t)
	s := newTestSession(t, "alice")
	ctx := context.Background()

	require.NoError(t, p.Provision(ctx, s))
	require.NoError(t, p.SetResumeID(ctx, "sprite-alice", "conv-123"))

	m, err := p.Manifest(ctx, "sprite-alice")
	require.NoError(t, err)
	assert.Equal(t, "conv-123", m.ResumeID)

	require.NoError(t, p.ClearResumeID(ctx, "sprite-alice"))
	m, err = p.Manifest(ctx, "sprite-alice")
	require.NoError(t, err)
	assert.Empty(t, m.ResumeID)
}

func TestManifestsEnumeration(t *testing.T) {
	p, _ := newTestProvisioner(t)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		require.NoError(t, p.Provision(ctx, newTestSession(t, user)))
	}

	manifests, err := p.Manifests(ctx)
	require.NoError(t, err)
	require.Len(t, manifests, 2)

	names := []string{manifests[0].SpriteName, manifests[1].SpriteName}
	assert.ElementsMatch(t, []string{"sprite-alice", "sprite-bob"}, names)
}
