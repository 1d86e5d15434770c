package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"
)

var (
	// ErrRepoNotFound is returned when the repository does not exist or the token cannot see it.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrBranchNotFound is returned when the requested branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrNotGitHub is returned for repository URLs outside github.com.
	ErrNotGitHub = errors.New("not a github repository url")
)

type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// RepoInfo is what the preflight learns about the repository.
type RepoInfo struct {
	FullName      string
	DefaultBranch string
	Branch        string
	Private       bool
	CloneURL      string
	SSHURL        string
}

func NewClient(token, owner, repo string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{
		client: client,
		owner:  owner,
		repo:   repo,
	}
}

// NewClientForURL builds a client for a repository URL such as
// https://github.com/acme/app, git@github.com:acme/app.git or acme/app.
func NewClientForURL(token, repoURL string) (*Client, error) {
	owner, repo, err := ParseRepository(repoURL)
	if err != nil {
		return nil, err
	}
	return NewClient(token, owner, repo), nil
}

// ParseRepository splits a repository reference into owner and name.
func ParseRepository(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	path := ref

	switch {
	case strings.HasPrefix(ref, "git@"):
		host, rest, ok := strings.Cut(strings.TrimPrefix(ref, "git@"), ":")
		if !ok || host != "github.com" {
			return "", "", fmt.Errorf("%w: %s", ErrNotGitHub, ref)
		}
		path = rest
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", "", fmt.Errorf("invalid repository url %q: %w", ref, err)
		}
		if u.Host != "github.com" && u.Host != "www.github.com" {
			return "", "", fmt.Errorf("%w: %s", ErrNotGitHub, ref)
		}
		path = u.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository reference %q: want owner/name", ref)
	}
	return parts[0], parts[1], nil
}

// Preflight checks that the repository exists and, when branch is set, that
// the branch exists. With an empty branch the default branch is reported in
// RepoInfo.Branch.
func (c *Client) Preflight(ctx context.Context, branch string) (*RepoInfo, error) {
	repo, _, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRepoNotFound, c.owner, c.repo)
		}
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", c.owner, c.repo, err)
	}

	info := &RepoInfo{
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Branch:        branch,
		Private:       repo.GetPrivate(),
		CloneURL:      repo.GetCloneURL(),
		SSHURL:        repo.GetSSHURL(),
	}
	if branch == "" {
		info.Branch = info.DefaultBranch
		return info, nil
	}

	if _, _, err := c.client.Repositories.GetBranch(ctx, c.owner, c.repo, branch, 1); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s in %s/%s", ErrBranchNotFound, branch, c.owner, c.repo)
		}
		return nil, fmt.Errorf("failed to get branch %s: %w", branch, err)
	}
	return info, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
