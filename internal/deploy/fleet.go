// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/internal/model"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel host connections.
const DefaultConcurrency = 8

// ErrUnreachable wraps every failure to connect to a host.
var ErrUnreachable = errors.New("host unreachable")

// Audit log actions.
const (
	ActionDeploy = "DEPLOY"
	ActionAudit  = "AUDIT"
)

// RemoteDeployer is a connection to one host.
type RemoteDeployer interface {
	Install(ctx context.Context, p *policy.Policy, target string, visudo bool) (string, error)
	Fetch(ctx context.Context, target string) ([]byte, error)
	Close() error
}

// Dialer opens a RemoteDeployer for a host.
type Dialer func(ctx context.Context, h model.Host) (RemoteDeployer, error)

// SSHDialer returns a Dialer that connects with NewDeployer.
func SSHDialer(opts ConnectOptions) Dialer {
	return func(ctx context.Context, h model.Host) (RemoteDeployer, error) {
		return NewDeployer(ctx, h.Address(), h.Username, opts)
	}
}

// Fleet deploys and audits the fragment across hosts.
type Fleet struct {
	Store     db.Store
	Profiles  *policy.Set
	Principal policy.Principal
	// DefaultProfile applies to hosts without a profile of their own.
	DefaultProfile string
	Path           string
	Concurrency    int
	Visudo         bool
	Dial           Dialer
}

// Result is the outcome for one host.
type Result struct {
	Host     model.Host
	Hash     string
	Serial   int
	Analysis *model.DriftAnalysis
	Err      error
}

// OK reports whether the host was reached and shows no drift.
func (r Result) OK() bool {
	return r.Err == nil && (r.Analysis == nil || !r.Analysis.HasDrift)
}

func (f *Fleet) profileFor(h model.Host) (policy.Profile, error) {
	name := h.Profile
	if name == "" {
		name = f.DefaultProfile
	}
	return f.Profiles.Lookup(name)
}

// run calls fn for every host with bounded parallelism. Per-host failures
// are reported in the results; only context cancellation aborts the run.
func (f *Fleet) run(ctx context.Context, hosts []model.Host, fn func(ctx context.Context, runID string, h model.Host) Result) ([]Result, error) {
	runID := uuid.NewString()
	limit := f.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	results := make([]Result, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, h := range hosts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Host: h, Err: err}
				return nil
			}
			results[i] = fn(gctx, runID, h)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (f *Fleet) logAction(ctx context.Context, runID, action string, h model.Host, details string) {
	err := f.Store.LogAction(ctx, model.AuditLogEntry{RunID: runID, Action: action, Details: fmt.Sprintf("host: %s, %s", h.Hostname, details)})
	if err != nil {
		logging.Warnf("failed to write audit log for %s: %v", h.Hostname, err)
	}
}

// DeployHosts installs the host's profile with the next serial on every host.
func (f *Fleet) DeployHosts(ctx context.Context, hosts []model.Host) ([]Result, error) {
	return f.run(ctx, hosts, f.deployOne)
}

func (f *Fleet) deployOne(ctx context.Context, runID string, h model.Host) Result {
	log := logging.With("host", h.Hostname, "run", runID)
	res := Result{Host: h, Serial: h.Serial + 1}

	pr, err := f.profileFor(h)
	if err != nil {
		res.Err = err
		return res
	}
	d, err := f.Dial(ctx, h)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrUnreachable, h.Hostname, err)
		log.Error("connection failed", "err", err)
		f.logAction(ctx, runID, ActionDeploy, h, "error: "+err.Error())
		return res
	}
	defer func() { _ = d.Close() }()

	res.Hash, res.Err = d.Install(ctx, pr.Policy(f.Principal, res.Serial), f.Path, f.Visudo)
	if res.Err != nil {
		log.Error("deployment failed", "err", res.Err)
		f.logAction(ctx, runID, ActionDeploy, h, "error: "+res.Err.Error())
		return res
	}
	if err := f.Store.UpdateHostDeployment(ctx, h.ID, res.Serial, res.Hash); err != nil {
		res.Err = fmt.Errorf("record deployment: %w", err)
		return res
	}
	if err := f.Store.ResolveDrift(ctx, h.ID); err != nil {
		log.Warn("failed to resolve drift events", "err", err)
	}
	log.Info("deployed", "profile", pr.Name, "serial", res.Serial)
	f.logAction(ctx, runID, ActionDeploy, h, fmt.Sprintf("profile: %s, serial: %d", pr.Name, res.Serial))
	return res
}

// AuditHosts fetches the installed fragment from every host and records drift.
func (f *Fleet) AuditHosts(ctx context.Context, hosts []model.Host, mode AuditMode) ([]Result, error) {
	return f.run(ctx, hosts, func(ctx context.Context, runID string, h model.Host) Result {
		return f.auditOne(ctx, runID, h, mode)
	})
}

func (f *Fleet) auditOne(ctx context.Context, runID string, h model.Host, mode AuditMode) Result {
	log := logging.With("host", h.Hostname, "run", runID)
	res := Result{Host: h, Serial: h.Serial}

	pr, err := f.profileFor(h)
	if err != nil {
		res.Err = err
		return res
	}
	d, err := f.Dial(ctx, h)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrUnreachable, h.Hostname, err)
		log.Error("connection failed", "err", err)
		return res
	}
	defer func() { _ = d.Close() }()

	content, err := d.Fetch(ctx, f.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		res.Err = err
		return res
	}
	expected := pr.Policy(f.Principal, h.Serial)
	res.Analysis = AnalyzeDrift(expected, content, mode)
	if content != nil && mode == AuditStrict && !res.Analysis.Unparsable {
		if actual, perr := policy.Parse(bytes.NewReader(content)); perr == nil {
			res.Analysis.ProfileMatch, _ = f.Profiles.Match(f.Principal, actual)
		}
	}
	res.Hash = res.Analysis.ActualHash

	if !res.Analysis.HasDrift {
		log.Info("in sync", "profile", pr.Name)
		f.logAction(ctx, runID, ActionAudit, h, "in sync")
		return res
	}
	log.Warn("drift detected", "classification", res.Analysis.Classification)
	if _, err := f.Store.RecordDrift(ctx, model.DriftEvent{
		HostID:    h.ID,
		DriftType: res.Analysis.Classification,
		Details:   res.Analysis.Summary(),
	}); err != nil {
		log.Warn("failed to record drift", "err", err)
	}
	if err := f.Store.MarkHostDirty(ctx, h.ID, true); err != nil {
		log.Warn("failed to mark host dirty", "err", err)
	}
	f.logAction(ctx, runID, ActionAudit, h, res.Analysis.Summary())
	return res
}
