// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/model"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/spf13/afero"
)

// fakeFleet hands out one in-memory remote per hostname.
type fakeFleet struct {
	mu          sync.Mutex
	remotes     map[string]*memRemote
	unreachable map[string]bool
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{remotes: map[string]*memRemote{}, unreachable: map[string]bool{}}
}

func (f *fakeFleet) remote(hostname string) *memRemote {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.remotes[hostname]
	if !ok {
		r = newMemRemote()
		f.remotes[hostname] = r
	}
	return r
}

func (f *fakeFleet) dial(_ context.Context, h model.Host) (RemoteDeployer, error) {
	if f.unreachable[h.Hostname] {
		return nil, errors.New("connection refused")
	}
	return &Deployer{fs: f.remote(h.Hostname), exec: &fakeExec{}}, nil
}

func newFleetStore(t *testing.T) db.Store {
	t.Helper()
	dsn := "file:deploy_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := db.NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addHosts(t *testing.T, s db.Store, hosts ...model.Host) []model.Host {
	t.Helper()
	ctx := context.Background()
	for _, h := range hosts {
		if _, err := s.AddHost(ctx, h); err != nil {
			t.Fatalf("AddHost(%s) failed: %v", h.Hostname, err)
		}
	}
	all, err := s.GetAllHosts(ctx)
	if err != nil {
		t.Fatalf("GetAllHosts failed: %v", err)
	}
	return all
}

func newTestFleet(s db.Store, ff *fakeFleet) *Fleet {
	return &Fleet{
		Store:          s,
		Profiles:       policy.NewSet(),
		Principal:      policy.DefaultPrincipal,
		DefaultProfile: policy.ProfileFull,
		Path:           target,
		Concurrency:    2,
		Visudo:         true,
		Dial:           ff.dial,
	}
}

func TestFleetDeployHosts(t *testing.T) {
	ctx := context.Background()
	s := newFleetStore(t)
	ff := newFakeFleet()
	ff.unreachable["sign-3"] = true
	hosts := addHosts(t, s,
		model.Host{Hostname: "sign-1"},
		model.Host{Hostname: "sign-2", Profile: policy.ProfileReduced},
		model.Host{Hostname: "sign-3"},
	)

	results, err := newTestFleet(s, ff).DeployHosts(ctx, hosts)
	if err != nil {
		t.Fatalf("DeployHosts failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		switch r.Host.Hostname {
		case "sign-3":
			if !errors.Is(r.Err, ErrUnreachable) {
				t.Errorf("sign-3: error = %v, want ErrUnreachable", r.Err)
			}
		default:
			if r.Err != nil {
				t.Errorf("%s: %v", r.Host.Hostname, r.Err)
			}
			if r.Serial != 1 {
				t.Errorf("%s: serial = %d, want 1", r.Host.Hostname, r.Serial)
			}
		}
	}

	content, err := afero.ReadFile(ff.remote("sign-2").fs, target)
	if err != nil {
		t.Fatalf("sign-2 has no fragment: %v", err)
	}
	if !strings.Contains(string(content), "Profile: reduced") || strings.Contains(string(content), "SMARTCTL") {
		t.Errorf("sign-2 did not get the reduced profile:\n%s", content)
	}

	h1, _ := s.GetHost(ctx, "sign-1")
	if h1.Serial != 1 || h1.Hash == "" || h1.IsDirty {
		t.Errorf("sign-1 deployment not recorded: %+v", h1)
	}
	h3, _ := s.GetHost(ctx, "sign-3")
	if h3.Serial != 0 || !h3.IsDirty {
		t.Errorf("sign-3 should be untouched: %+v", h3)
	}

	entries, err := s.GetAuditLog(ctx, 10)
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d audit entries, want 3", len(entries))
	}
	runID := entries[0].RunID
	for _, e := range entries {
		if e.Action != ActionDeploy || e.RunID != runID || runID == "" {
			t.Errorf("unexpected audit entry %+v", e)
		}
	}
}

func TestFleetAuditHosts(t *testing.T) {
	ctx := context.Background()
	s := newFleetStore(t)
	ff := newFakeFleet()
	fleet := newTestFleet(s, ff)
	hosts := addHosts(t, s,
		model.Host{Hostname: "sign-1"},
		model.Host{Hostname: "sign-2"},
		model.Host{Hostname: "sign-3"},
	)
	if _, err := fleet.DeployHosts(ctx, hosts[:2]); err != nil {
		t.Fatalf("DeployHosts failed: %v", err)
	}

	// Tamper with sign-2 and leave sign-3 without a fragment.
	r2 := ff.remote("sign-2")
	content, _ := afero.ReadFile(r2.fs, target)
	_ = afero.WriteFile(r2.fs, target, append(content, []byte("digsig ALL = NOPASSWD: ALL\n")...), 0o440)

	hosts, _ = s.GetAllHosts(ctx)
	results, err := fleet.AuditHosts(ctx, hosts, AuditStrict)
	if err != nil {
		t.Fatalf("AuditHosts failed: %v", err)
	}
	byHost := map[string]Result{}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s: %v", r.Host.Hostname, r.Err)
		}
		byHost[r.Host.Hostname] = r
	}

	if r := byHost["sign-1"]; !r.OK() || r.Analysis.ProfileMatch != policy.ProfileFull {
		t.Errorf("sign-1 should be in sync with the full profile: %+v", r.Analysis)
	}
	if r := byHost["sign-2"]; r.OK() || r.Analysis.Classification != model.DriftCritical {
		t.Errorf("sign-2 should have critical drift: %+v", r.Analysis)
	}
	if r := byHost["sign-3"]; r.Analysis.Classification != model.DriftWarning {
		t.Errorf("sign-3 should have warning drift: %+v", r.Analysis)
	}

	h2, _ := s.GetHost(ctx, "sign-2")
	if !h2.IsDirty {
		t.Errorf("sign-2 should be marked dirty")
	}
	events, err := s.GetDriftEvents(ctx, h2.ID)
	if err != nil {
		t.Fatalf("GetDriftEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].DriftType != model.DriftCritical || events[0].WasRemediated {
		t.Fatalf("unexpected drift events: %+v", events)
	}

	// Redeploying remediates the recorded drift.
	if _, err := fleet.DeployHosts(ctx, []model.Host{*h2}); err != nil {
		t.Fatalf("DeployHosts failed: %v", err)
	}
	events, _ = s.GetDriftEvents(ctx, h2.ID)
	if len(events) != 1 || !events[0].WasRemediated {
		t.Errorf("drift not remediated: %+v", events)
	}
}

func TestFleetUnknownProfile(t *testing.T) {
	s := newFleetStore(t)
	hosts := addHosts(t, s, model.Host{Hostname: "sign-1", Profile: "missing"})
	results, err := newTestFleet(s, newFakeFleet()).DeployHosts(context.Background(), hosts)
	if err != nil {
		t.Fatalf("DeployHosts failed: %v", err)
	}
	if results[0].Err == nil {
		t.Fatal("expected unknown profile error")
	}
}

func TestFleetCanceled(t *testing.T) {
	s := newFleetStore(t)
	hosts := addHosts(t, s, model.Host{Hostname: "sign-1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := newTestFleet(s, newFakeFleet()).DeployHosts(ctx, hosts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("host result should carry the cancellation, got %v", results[0].Err)
	}
}
