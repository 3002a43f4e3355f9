// Package workspace provisions and tracks per-user workspace directories.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/spritegate/internal/event"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/storage"
)

// Manifest is the persisted record of one provisioned workspace.
type Manifest struct {
	UserKey    string    `json:"user_key"`
	SpriteName string    `json:"sprite_name"`
	Path       string    `json:"path"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// ResumeID carries the agent conversation to resume across reconnects.
	ResumeID string `json:"resume_id,omitempty"`
}

const welcomeFile = "WELCOME.md"

const welcomeContent = `# Welcome to your sprite

This directory is your workspace. Files here are visible in the file
browser, editable by the agent, and served to your terminal sessions.
`

// Provisioner creates workspace directories on first session use and keeps
// their manifests current. Provisioning an existing workspace is a cheap
// no-op that only refreshes the manifest.
type Provisioner struct {
	root    string
	store   *storage.Store
	timeout time.Duration
	log     zerolog.Logger
}

// NewProvisioner creates a provisioner rooting workspaces at root and
// persisting manifests through store.
func NewProvisioner(root string, store *storage.Store, timeout time.Duration) *Provisioner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provisioner{
		root:    root,
		store:   store,
		timeout: timeout,
		log:     logging.Component("workspace"),
	}
}

// Bind registers the provisioner on the registry's session-create hook, so
// every new session gets a workspace provisioned asynchronously.
func (p *Provisioner) Bind(reg *session.Registry) {
	reg.OnCreate(func(s *session.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Provision(ctx, s); err != nil {
			p.log.Error().Err(err).Str("user", s.UserKey()).Msg("workspace provisioning failed")
		}
	})
}

// Provision creates (or refreshes) the workspace for a session, waits for it
// to become usable, and marks the session's workspace initialized.
func (p *Provisioner) Provision(ctx context.Context, s *session.Session) error {
	dir := p.DirFor(s.SpriteName())

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := p.seed(dir); err != nil {
		return err
	}
	if err := p.writeManifest(ctx, s.UserKey(), s.SpriteName(), dir); err != nil {
		return err
	}
	if err := p.waitReady(ctx, dir); err != nil {
		return fmt.Errorf("workspace readiness: %w", err)
	}

	s.MarkWorkspaceReady(dir)
	p.log.Info().Str("user", s.UserKey()).Str("dir", dir).Msg("workspace ready")
	event.Publish(event.Event{
		Type: event.WorkspaceReady,
		Data: event.WorkspaceReadyData{UserKey: s.UserKey(), Dir: dir},
	})
	return nil
}

// DirFor returns the workspace directory for a sprite name.
func (p *Provisioner) DirFor(spriteName string) string {
	return filepath.Join(p.root, spriteName)
}

func (p *Provisioner) seed(dir string) error {
	path := filepath.Join(dir, welcomeFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(welcomeContent), 0644); err != nil {
		return fmt.Errorf("seed welcome file: %w", err)
	}
	return nil
}

func (p *Provisioner) writeManifest(ctx context.Context, userKey, spriteName, dir string) error {
	var m Manifest
	return p.store.Update(ctx, manifestPath(spriteName), &m, func() error {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		m.UserKey = userKey
		m.SpriteName = spriteName
		m.Path = dir
		m.UpdatedAt = time.Now()
		return nil
	})
}

// waitReady probes the directory with exponential backoff until a write
// round-trip succeeds or ctx expires.
func (p *Provisioner) waitReady(ctx context.Context, dir string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = p.timeout

	return backoff.Retry(func() error {
		probe := filepath.Join(dir, ".spritegate-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return err
		}
		return os.Remove(probe)
	}, backoff.WithContext(bo, ctx))
}

// Manifest loads the manifest for a sprite name.
func (p *Provisioner) Manifest(ctx context.Context, spriteName string) (Manifest, error) {
	var m Manifest
	err := p.store.Get(ctx, manifestPath(spriteName), &m)
	return m, err
}

// SetResumeID records the agent conversation resume id in the manifest.
func (p *Provisioner) SetResumeID(ctx context.Context, spriteName, resumeID string) error {
	var m Manifest
	return p.store.Update(ctx, manifestPath(spriteName), &m, func() error {
		m.ResumeID = resumeID
		m.UpdatedAt = time.Now()
		return nil
	})
}

// ClearResumeID drops the stored resume id, used on new_conversation.
func (p *Provisioner) ClearResumeID(ctx context.Context, spriteName string) error {
	return p.SetResumeID(ctx, spriteName, "")
}

// Manifests enumerates every known workspace manifest.
func (p *Provisioner) Manifests(ctx context.Context) ([]Manifest, error) {
	keys, err := p.store.List(ctx, []string{"workspaces"})
	if err != nil {
		return nil, err
	}
	out := make([]Manifest, 0, len(keys))
	for _, key := range keys {
		var m Manifest
		if err := p.store.Get(ctx, manifestPath(key), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func manifestPath(spriteName string) []string {
	return []string{"workspaces", spriteName}
}
