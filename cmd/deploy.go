package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgdnvk/coolctl/internal/github"
	"github.com/bgdnvk/coolctl/internal/history"
	"github.com/bgdnvk/coolctl/internal/livewire"
	"github.com/bgdnvk/coolctl/internal/logging"
	"github.com/bgdnvk/coolctl/internal/smoke"
	"github.com/bgdnvk/coolctl/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const fallbackBranch = "main"

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Register a repository as a Coolify application and optionally deploy it",
	Long: `Log into Coolify, resolve the project and environment, create an application
from a git repository and submit it. With --domain the application's domain is
set afterwards; with --deploy a deployment is triggered and polled until it
finishes.

Credentials are read from COOLIFY_EMAIL and COOLIFY_PASSWORD.

Examples:
  coolctl deploy --url https://coolify.example.com --repo https://github.com/acme/app
  coolctl deploy --repo git@github.com:acme/app.git --branch develop --project-name demo
  coolctl deploy --repo https://github.com/acme/app --domain app.example.com --deploy`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().String("repo", "", "git repository URL to deploy")
	deployCmd.Flags().String("branch", "", "branch to deploy (default: repository default branch)")
	deployCmd.Flags().String("domain", "", "domain to assign to the application")
	deployCmd.Flags().String("project-id", "", "use this project instead of discovering one")
	deployCmd.Flags().String("project-name", "", "create a project with this name")
	deployCmd.Flags().String("environment-id", "", "use this environment instead of discovering one")
	deployCmd.Flags().String("private-key-id", "", "private key id to attach (default: first key offered)")
	deployCmd.Flags().Bool("deploy", false, "trigger a deployment and wait for it to finish")
	deployCmd.Flags().Bool("skip-preflight", false, "do not check the repository on GitHub first")
	deployCmd.Flags().Bool("no-history", false, "do not record this run in the local history")

	viper.BindPFlag("application.repository", deployCmd.Flags().Lookup("repo"))
	viper.BindPFlag("application.branch", deployCmd.Flags().Lookup("branch"))
	viper.BindPFlag("application.domain", deployCmd.Flags().Lookup("domain"))
	viper.BindPFlag("application.private_key_id", deployCmd.Flags().Lookup("private-key-id"))
	viper.BindPFlag("project.id", deployCmd.Flags().Lookup("project-id"))
	viper.BindPFlag("project.name", deployCmd.Flags().Lookup("project-name"))
	viper.BindPFlag("environment.id", deployCmd.Flags().Lookup("environment-id"))
}

func runDeploy(cmd *cobra.Command, args []string) error {
	debug := viper.GetBool("debug")
	triggerDeploy, _ := cmd.Flags().GetBool("deploy")
	skipPreflight, _ := cmd.Flags().GetBool("skip-preflight")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	// 1. Everything that can fail without touching the network
	creds, err := resolveCredentials()
	if err != nil {
		return err
	}
	baseURL, err := resolveBaseURL()
	if err != nil {
		return err
	}
	opts := workflowOptions(creds)
	opts.Deploy = triggerDeploy
	if opts.Repository == "" {
		return fmt.Errorf("no repository given: pass --repo or set application.repository")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Repository preflight
	if !skipPreflight {
		branch, err := preflight(ctx, opts.Repository, opts.Branch)
		if err != nil {
			return err
		}
		opts.Branch = branch
	}
	if opts.Branch == "" {
		opts.Branch = fallbackBranch
	}

	progress := workflow.NewProgressWriter(os.Stderr, debug)
	if !noHistory {
		prev, err := previousApplication(ctx, viper.GetString("history.path"), baseURL, opts.Repository)
		switch {
		case err != nil:
			progress.LogDebug("history lookup failed: " + err.Error())
		case prev != nil:
			progress.Note(fmt.Sprintf("run #%d already created application %s for this repository on %s",
				prev.ID, prev.ApplicationID, prev.StartedAt.Local().Format("2006-01-02 15:04")))
		}
	}

	// 3. Run the workflow
	cfg := protocolConfig(baseURL)
	client, err := livewire.NewClient(cfg)
	if err != nil {
		return err
	}
	progress.LogDebug(fmt.Sprintf("update endpoint %s, %d attempts every %s", cfg.UpdatePath, cfg.RetryAttempts, cfg.RetryDelay))
	smoker := smoke.NewChecker(smokeTimeout(), logging.Logger("smoke"))

	fmt.Fprintf(os.Stderr, "[deploy] %s (%s) -> %s\n", opts.Repository, opts.Branch, baseURL)
	started := time.Now()
	res, runErr := workflow.New(client, opts, progress, smoker, logging.Logger("workflow")).Run(ctx)

	workflow.DisplayResult(os.Stdout, res)
	progress.LogDuration()

	if !noHistory {
		recordRun(baseURL, opts, res, started)
	}
	return runErr
}

// preflight checks the repository on GitHub and returns the branch to use.
// Only a missing branch is fatal; anything else is reported and skipped.
func preflight(ctx context.Context, repoURL, branch string) (string, error) {
	gh, err := github.NewClientForURL(resolveGitHubToken(), repoURL)
	if err != nil {
		if !errors.Is(err, github.ErrNotGitHub) {
			logging.Warnf("repository preflight skipped: %v", err)
		}
		return branch, nil
	}

	info, err := gh.Preflight(ctx, branch)
	if err != nil {
		if errors.Is(err, github.ErrBranchNotFound) {
			return "", err
		}
		logging.Warnf("repository preflight failed, continuing: %v", err)
		return branch, nil
	}

	visibility := "public"
	if info.Private {
		visibility = "private"
	}
	fmt.Fprintf(os.Stderr, "[github] %s is %s, default branch %s\n", info.FullName, visibility, info.DefaultBranch)
	return info.Branch, nil
}

// previousApplication returns the latest successful run that created an
// application for repository on baseURL, or nil.
func previousApplication(ctx context.Context, path, baseURL, repository string) (*history.Run, error) {
	store, err := history.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.LastApplication(ctx, baseURL, repository)
}

func recordRun(baseURL string, opts workflow.Options, res *workflow.Result, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := history.Open(ctx, viper.GetString("history.path"))
	if err != nil {
		logging.Warnf("run history unavailable: %v", err)
		return
	}
	defer store.Close()

	run := history.Run{
		StartedAt:     started,
		FinishedAt:    time.Now(),
		BaseURL:       baseURL,
		Repository:    opts.Repository,
		Branch:        opts.Branch,
		State:         string(res.State),
		FailedStep:    string(res.FailedStep),
		ProjectID:     res.Context.ProjectID(),
		EnvironmentID: res.Context.EnvironmentID(),
		ApplicationID: res.Context.ApplicationID(),
		DeploymentID:  res.Context.DeploymentID(),
		Domain:        res.Context.Value(workflow.KeyDomain),
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if _, err := store.Record(ctx, run); err != nil {
		logging.Warnf("failed to record run: %v", err)
	}
}
