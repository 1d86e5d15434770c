// Package workflow sequences the deploy run as a linear state machine:
// authenticate, resolve project and environment, configure and submit the
// application, then optionally set its domain and deploy it.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bgdnvk/coolctl/internal/extract"
	"github.com/bgdnvk/coolctl/internal/livewire"
	"github.com/bgdnvk/coolctl/internal/smoke"
)

const (
	DefaultApplicationType = "private-deploy-key"
	DefaultServerID        = "0"
	DefaultSettleDelay     = 3 * time.Second
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPolls        = 60

	// Laravel answers a stale or missing CSRF token with 419 Page Expired.
	statusPageExpired = 419

	generalComponent = "project.application.general"
	headingComponent = "project.application.heading"
)

// DefaultMarkers identify the application creation form among the components
// on the creation page.
var DefaultMarkers = []string{"repository_url"}

// Protocol is the part of the protocol client the workflow drives.
type Protocol interface {
	Fetch(ctx context.Context, path string) (*livewire.Page, error)
	SubmitForm(ctx context.Context, path string, form url.Values, referer string) (*livewire.Page, error)
	Call(ctx context.Context, call livewire.Call) (*livewire.Result, error)
}

// Smoker checks a deployed service.
type Smoker interface {
	Check(ctx context.Context, target string) (*smoke.Report, error)
}

// Credentials are the login email and password.
type Credentials struct {
	Email    string
	Password string
}

// Options are the configuration-driven variation points of a run.
type Options struct {
	Credentials Credentials

	ProjectID          string
	ProjectName        string
	ProjectDescription string
	// FallbackProjectID is used when no project can be discovered.
	FallbackProjectID string
	EnvironmentID     string

	ApplicationType string
	Destination     string
	ServerID        string
	Repository      string
	Branch          string
	Domain          string
	PrivateKeyID    string
	Markers         []string
	ExtraUpdates    map[string]any

	SettleDelay  time.Duration
	Deploy       bool
	PollInterval time.Duration
	MaxPolls     int
	Smoke        bool
}

func (o *Options) applyDefaults() {
	if o.ApplicationType == "" {
		o.ApplicationType = DefaultApplicationType
	}
	if o.ServerID == "" {
		o.ServerID = DefaultServerID
	}
	if len(o.Markers) == 0 {
		o.Markers = DefaultMarkers
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = DefaultMaxPolls
	}
}

// Workflow drives one deploy run against a protocol client.
type Workflow struct {
	client   Protocol
	opts     Options
	reporter Reporter
	smoker   Smoker
	log      zerolog.Logger
}

// New creates a workflow. reporter and smoker may be nil.
func New(client Protocol, opts Options, reporter Reporter, smoker Smoker, log zerolog.Logger) *Workflow {
	opts.applyDefaults()
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Workflow{
		client:   client,
		opts:     opts,
		reporter: reporter,
		smoker:   smoker,
		log:      log,
	}
}

// Steps returns the enabled steps in order.
func (w *Workflow) Steps() []Step {
	steps := []Step{
		{Name: StateAuthenticated, Run: w.authenticate},
		{Name: StateProjectResolved, Requires: []Key{KeyUser}, Run: w.resolveProject},
		{Name: StateEnvironmentResolved, Requires: []Key{KeyProject}, Run: w.resolveEnvironment},
		{Name: StateApplicationConfigured, Requires: []Key{KeyProject, KeyEnvironment}, Run: w.configureApplication},
		{Name: StateSubmitted, Requires: []Key{KeyProject, KeyEnvironment, KeySubmission}, Run: w.submitted},
	}
	if w.opts.Domain != "" {
		steps = append(steps, Step{Name: StateDomainConfigured, Requires: []Key{KeyApplication}, Run: w.configureDomain})
	}
	if w.opts.Deploy {
		steps = append(steps, Step{Name: StateDeployed, Requires: []Key{KeyApplication}, Run: w.deploy})
	}
	return steps
}

// Run executes every enabled step.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	r := &Runner{Steps: w.Steps(), Reporter: w.reporter}
	return r.Run(ctx, NewContext())
}

func (w *Workflow) authenticate(ctx context.Context, wc Context) (Context, error) {
	creds := w.opts.Credentials
	if creds.Email == "" || creds.Password == "" {
		return wc, fmt.Errorf("%w: credentials", ErrMissingPrecondition)
	}

	login, err := w.client.Fetch(ctx, "/login")
	if err != nil {
		return wc, fmt.Errorf("failed to load login page: %w", err)
	}
	if login.Token == "" {
		return wc, fmt.Errorf("%w: no csrf token on login page", ErrAuth)
	}

	form := url.Values{}
	form.Set("email", creds.Email)
	form.Set("password", creds.Password)
	form.Set("remember", "on")

	page, err := w.client.SubmitForm(ctx, "/login", form, "/login")
	if err != nil {
		var httpErr *livewire.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == statusPageExpired {
				return wc, fmt.Errorf("%w: csrf token rejected (HTTP %d)", ErrAuth, httpErr.StatusCode)
			}
			if extract.CredentialsRejected(string(httpErr.Body)) {
				return wc, fmt.Errorf("%w: credentials rejected", ErrAuth)
			}
		}
		return wc, fmt.Errorf("login request failed: %w", err)
	}
	if extract.CredentialsRejected(page.Body) {
		return wc, fmt.Errorf("%w: credentials rejected", ErrAuth)
	}
	if extract.LoginFormPresent(page.Body) {
		return wc, fmt.Errorf("%w: still on login form after submit", ErrAuth)
	}

	check, err := w.client.Fetch(ctx, "/projects")
	if err != nil {
		return wc, fmt.Errorf("failed to load projects page: %w", err)
	}
	if extract.LoginFormPresent(check.Body) {
		return wc, fmt.Errorf("%w: session not established", ErrAuth)
	}

	return wc.With(KeyUser, creds.Email)
}

func (w *Workflow) resolveProject(ctx context.Context, wc Context) (Context, error) {
	if w.opts.ProjectID != "" {
		return wc.With(KeyProject, w.opts.ProjectID)
	}
	if w.opts.ProjectName != "" {
		id, err := w.createProject(ctx)
		if err != nil {
			return wc, err
		}
		return wc.With(KeyProject, id)
	}

	dashboard, err := w.client.Fetch(ctx, "/")
	if err != nil {
		return wc, fmt.Errorf("failed to load dashboard: %w", err)
	}
	if pair, err := (extract.PairExtractor{}).Extract(dashboard.Body); err == nil {
		w.reporter.Note("found project/environment pair on dashboard")
		next, err := wc.With(KeyProject, pair.ProjectID)
		if err != nil {
			return wc, err
		}
		return next.WithHint(KeyEnvironment, pair.EnvironmentID), nil
	}

	projects, err := w.client.Fetch(ctx, "/projects")
	if err != nil {
		return wc, fmt.Errorf("failed to load projects: %w", err)
	}
	id, err := extract.NewIdentifierExtractor("project/").Latest(projects.Body)
	if err == nil {
		return wc.With(KeyProject, id)
	}
	if !errors.Is(err, extract.ErrNotFound) {
		return wc, err
	}

	if w.opts.FallbackProjectID != "" {
		w.reporter.Note("no project discovered, using configured fallback " + w.opts.FallbackProjectID)
		return wc.With(KeyProject, w.opts.FallbackProjectID)
	}
	return wc, fmt.Errorf("no project found: %w", err)
}

func (w *Workflow) createProject(ctx context.Context) (string, error) {
	page, err := w.client.Fetch(ctx, "/projects")
	if err != nil {
		return "", fmt.Errorf("failed to load projects: %w", err)
	}
	comp, err := extract.ComponentExtractor{Markers: []string{`"description"`}}.Extract(page.Body)
	if err != nil {
		return "", fmt.Errorf("project form: %w", err)
	}
	snap, err := comp.Decode()
	if err != nil {
		return "", err
	}

	res, err := w.client.Call(ctx, livewire.Call{
		Snapshot: snap,
		Updates: map[string]any{
			"name":        w.opts.ProjectName,
			"description": w.opts.ProjectDescription,
		},
		Method:  "submit",
		Referer: "/projects",
	})
	if err != nil {
		return "", fmt.Errorf("create project %q: %w", w.opts.ProjectName, err)
	}

	ids := extract.NewIdentifierExtractor("project/")
	if id, err := ids.Latest(responseText(res)); err == nil {
		return id, nil
	}

	w.reporter.Note(fmt.Sprintf("project %q submitted, waiting for listing", w.opts.ProjectName))
	if err := sleep(ctx, w.opts.SettleDelay); err != nil {
		return "", err
	}
	listing, err := w.client.Fetch(ctx, "/projects")
	if err != nil {
		return "", fmt.Errorf("failed to reload projects: %w", err)
	}
	return ids.Latest(listing.Body)
}

func (w *Workflow) resolveEnvironment(ctx context.Context, wc Context) (Context, error) {
	if w.opts.EnvironmentID != "" {
		return wc.With(KeyEnvironment, w.opts.EnvironmentID)
	}
	if hint := wc.Hint(KeyEnvironment); hint != "" {
		return wc.With(KeyEnvironment, hint)
	}

	page, err := w.client.Fetch(ctx, "/project/"+wc.ProjectID())
	if err != nil {
		return wc, fmt.Errorf("failed to load project page: %w", err)
	}
	id, err := extract.NewIdentifierExtractor("environment/").Latest(page.Body)
	if err != nil {
		return wc, fmt.Errorf("no environment on project %s: %w", wc.ProjectID(), err)
	}
	return wc.With(KeyEnvironment, id)
}

func (w *Workflow) environmentPath(wc Context) string {
	return fmt.Sprintf("/project/%s/environment/%s", wc.ProjectID(), wc.EnvironmentID())
}

func (w *Workflow) applicationPath(wc Context) string {
	return w.environmentPath(wc) + "/application/" + wc.ApplicationID()
}

func (w *Workflow) configureApplication(ctx context.Context, wc Context) (Context, error) {
	q := url.Values{}
	q.Set("type", w.opts.ApplicationType)
	if w.opts.Destination != "" {
		q.Set("destination", w.opts.Destination)
	}
	q.Set("server_id", w.opts.ServerID)
	path := w.environmentPath(wc) + "/new?" + q.Encode()

	page, err := w.client.Fetch(ctx, path)
	if err != nil {
		return wc, fmt.Errorf("failed to load creation page: %w", err)
	}
	comp, err := extract.ComponentExtractor{Markers: w.opts.Markers}.Extract(page.Body)
	if err != nil {
		return wc, fmt.Errorf("creation form: %w", err)
	}
	snap, err := comp.Decode()
	if err != nil {
		return wc, err
	}

	keyID := w.opts.PrivateKeyID
	if keyID == "" {
		if keys := snap.TupleKeys("private_keys"); len(keys) > 0 {
			keyID = keys[0]
		}
	}
	if keyID != "" {
		w.reporter.Note("selecting private key " + keyID)
		res, err := w.client.Call(ctx, livewire.Call{
			Snapshot: snap,
			Method:   "setPrivateKey",
			Params:   []any{keyID},
			Referer:  path,
		})
		if err != nil {
			return wc, fmt.Errorf("select private key: %w", err)
		}
		if res.Snapshot != nil {
			snap = res.Snapshot
		}
	}

	updates := map[string]any{
		"repository_url": w.opts.Repository,
		"branch":         w.opts.Branch,
	}
	for k, v := range w.opts.ExtraUpdates {
		updates[k] = v
	}

	res, err := w.client.Call(ctx, livewire.Call{
		Snapshot: snap,
		Updates:  updates,
		Method:   "submit",
		Referer:  path,
	})
	if err != nil {
		return wc, fmt.Errorf("submit application: %w", err)
	}
	return wc.WithSubmission(res), nil
}

func (w *Workflow) submitted(ctx context.Context, wc Context) (Context, error) {
	res := wc.Submission()
	ids := extract.NewIdentifierExtractor("application/")

	if id, err := ids.Latest(res.Effects.Redirect); err == nil {
		return wc.With(KeyApplication, id)
	}
	if id, err := ids.Latest(responseText(res)); err == nil {
		return wc.With(KeyApplication, id)
	}

	w.reporter.Note("application id not in response, re-checking environment page")
	if err := sleep(ctx, w.opts.SettleDelay); err != nil {
		return wc, err
	}
	page, err := w.client.Fetch(ctx, w.environmentPath(wc))
	if err != nil {
		return wc, fmt.Errorf("failed to load environment page: %w", err)
	}
	id, err := ids.Latest(page.Body)
	if err != nil {
		return wc, fmt.Errorf("application id: %w", err)
	}
	return wc.With(KeyApplication, id)
}

// responseText flattens a call result for identifier scans: the redirect and
// html effects, then the decoded body. Servers that escape "/" as "\/" in
// JSON, including inside nested snapshot strings, still yield plain paths.
func responseText(res *livewire.Result) string {
	var b strings.Builder
	b.WriteString(res.Effects.Redirect)
	b.WriteByte('\n')
	b.WriteString(res.Effects.HTML)
	b.WriteByte('\n')

	body := res.Body
	var decoded any
	if err := json.Unmarshal(res.Body, &decoded); err == nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(decoded); err == nil {
			body = buf.Bytes()
		}
	}

	text := string(body)
	for strings.Contains(text, `\/`) {
		text = strings.ReplaceAll(text, `\/`, "/")
	}
	b.WriteString(text)
	return b.String()
}

func (w *Workflow) configureDomain(ctx context.Context, wc Context) (Context, error) {
	path := w.applicationPath(wc)
	page, err := w.client.Fetch(ctx, path)
	if err != nil {
		return wc, fmt.Errorf("failed to load application page: %w", err)
	}
	comp, err := extract.ComponentExtractor{Markers: []string{generalComponent}}.Extract(page.Body)
	if err != nil {
		return wc, fmt.Errorf("general settings form: %w", err)
	}
	snap, err := comp.Decode()
	if err != nil {
		return wc, err
	}

	if _, err := w.client.Call(ctx, livewire.Call{
		Snapshot: snap,
		Updates:  map[string]any{"application.fqdn": w.opts.Domain},
		Method:   "submit",
		Referer:  path,
	}); err != nil {
		return wc, fmt.Errorf("set domain: %w", err)
	}
	return wc.With(KeyDomain, w.opts.Domain)
}

func (w *Workflow) deploy(ctx context.Context, wc Context) (Context, error) {
	path := w.applicationPath(wc)
	page, err := w.client.Fetch(ctx, path)
	if err != nil {
		return wc, fmt.Errorf("failed to load application page: %w", err)
	}
	comp, err := extract.ComponentExtractor{Markers: []string{headingComponent}}.Extract(page.Body)
	if err != nil {
		return wc, fmt.Errorf("deploy control: %w", err)
	}
	snap, err := comp.Decode()
	if err != nil {
		return wc, err
	}

	res, err := w.client.Call(ctx, livewire.Call{Snapshot: snap, Method: "deploy", Referer: path})
	if err != nil {
		return wc, fmt.Errorf("trigger deployment: %w", err)
	}

	ids := extract.NewIdentifierExtractor("deployment/")
	deploymentID, err := ids.Latest(res.Effects.Redirect)
	if err != nil {
		if deploymentID, err = ids.Latest(responseText(res)); err != nil {
			return wc, fmt.Errorf("deployment id: %w", err)
		}
	}
	next, err := wc.With(KeyDeployment, deploymentID)
	if err != nil {
		return wc, err
	}

	if err := w.waitForDeployment(ctx, path+"/deployment/"+deploymentID); err != nil {
		return next, err
	}

	if w.opts.Smoke && w.smoker != nil && w.opts.Domain != "" {
		report, err := w.smoker.Check(ctx, w.opts.Domain)
		if err != nil {
			return next, fmt.Errorf("smoke test: %w", err)
		}
		w.reporter.Note(fmt.Sprintf("smoke test passed: %s/health is %s", report.BaseURL, report.Health.Status))
	}
	return next, nil
}

func (w *Workflow) waitForDeployment(ctx context.Context, path string) error {
	statuses := extract.StatusExtractor{}
	last := ""
	for i := 1; i <= w.opts.MaxPolls; i++ {
		page, err := w.client.Fetch(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to load deployment page: %w", err)
		}

		status, err := statuses.Extract(page.Body)
		if err == nil {
			if status != last {
				w.reporter.Note(fmt.Sprintf("deployment status: %s (%d/%d)", status, i, w.opts.MaxPolls))
				last = status
			}
			if extract.IsTerminalStatus(status) {
				if status == extract.StatusFinished {
					return nil
				}
				return fmt.Errorf("%w: status %s", ErrDeploymentFailed, status)
			}
		} else {
			w.log.Debug().Err(err).Int("poll", i).Msg("no deployment status yet")
		}

		if i < w.opts.MaxPolls {
			if err := sleep(ctx, w.opts.PollInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: no terminal status after %d polls (last %q)", ErrDeploymentFailed, w.opts.MaxPolls, last)
}
