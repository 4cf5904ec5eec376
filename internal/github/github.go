package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotAuthenticated is returned when gh has no usable credentials.
var ErrNotAuthenticated = errors.New("gh is not authenticated (run `gh auth login`)")

// CmdRunner provides gh command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct {
	// Dir is the working directory gh runs in; empty means the process cwd.
	Dir string
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client reads GitHub Actions state through the gh CLI.
type Client struct {
	cmd   CmdRunner
	limit int
}

// NewClient creates a GitHub client.
func NewClient(cmd CmdRunner) *Client {
	return &Client{cmd: cmd, limit: 20}
}

// Run is a workflow run as reported by `gh run list`.
type Run struct {
	ID         int64     `json:"databaseId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HeadSHA    string    `json:"headSha"`
	HeadBranch string    `json:"headBranch"`
	CreatedAt  time.Time `json:"createdAt"`
	URL        string    `json:"url"`
}

// Completed reports whether the run has reached a terminal status.
func (r Run) Completed() bool { return r.Status == "completed" }

// Succeeded reports whether a completed run counts as green. Skipped and
// neutral conclusions do not block convergence.
func (r Run) Succeeded() bool {
	switch r.Conclusion {
	case "success", "neutral", "skipped":
		return true
	}
	return false
}

// Job is one job of a workflow run.
type Job struct {
	ID         int64  `json:"databaseId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	URL        string `json:"url"`
}

// Failed reports whether the job finished unsuccessfully.
func (j Job) Failed() bool {
	switch j.Conclusion {
	case "failure", "cancelled", "timed_out", "startup_failure":
		return true
	}
	return false
}

// Active reports whether the job is queued or running.
func (j Job) Active() bool {
	return j.Status == "in_progress" || j.Status == "queued" || j.Status == "waiting" || j.Status == "pending"
}

const runFields = "databaseId,name,status,conclusion,headSha,headBranch,createdAt,url"

var authFailureRe = regexp.MustCompile(`(?i)(gh auth login|not logged in|authentication required|bad credentials|HTTP 401)`)

// classify maps gh failures that indicate missing credentials onto
// ErrNotAuthenticated so the controller can stop immediately.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if authFailureRe.MatchString(err.Error()) {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return err
}

// AuthStatus verifies gh is logged in.
func (c *Client) AuthStatus(ctx context.Context) error {
	if _, err := c.cmd.Run(ctx, "auth", "status"); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return nil
}

// ListRecentRuns returns the most recent runs for repo, newest first. An empty
// branch lists runs for every branch.
func (c *Client) ListRecentRuns(ctx context.Context, repo, branch string) ([]Run, error) {
	args := []string{"run", "list", "--repo", repo, "--limit", strconv.Itoa(c.limit), "--json", runFields}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	out, err := c.cmd.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", classify(err))
	}
	var runs []Run
	if out == "" {
		return runs, nil
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		return nil, fmt.Errorf("parse run list JSON: %w", err)
	}
	return runs, nil
}

// GetRun refreshes a single run.
func (c *Client) GetRun(ctx context.Context, repo string, runID int64) (*Run, error) {
	out, err := c.cmd.Run(ctx, "run", "view", strconv.FormatInt(runID, 10), "--repo", repo, "--json", runFields)
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", runID, classify(err))
	}
	var run Run
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		return nil, fmt.Errorf("parse run JSON: %w", err)
	}
	return &run, nil
}

// GetRunJobs lists the jobs of a run in the order GitHub reports them.
func (c *Client) GetRunJobs(ctx context.Context, repo string, runID int64) ([]Job, error) {
	out, err := c.cmd.Run(ctx, "run", "view", strconv.FormatInt(runID, 10), "--repo", repo, "--json", "jobs")
	if err != nil {
		return nil, fmt.Errorf("get jobs for run %d: %w", runID, classify(err))
	}
	var payload struct {
		Jobs []Job `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, fmt.Errorf("parse jobs JSON: %w", err)
	}
	return payload.Jobs, nil
}

// GetJobLog fetches the full log of one job.
func (c *Client) GetJobLog(ctx context.Context, repo string, jobID int64) (string, error) {
	out, err := c.cmd.Run(ctx, "run", "view", "--repo", repo, "--job", strconv.FormatInt(jobID, 10), "--log")
	if err != nil {
		return "", fmt.Errorf("get log for job %d: %w", jobID, classify(err))
	}
	return out, nil
}

// GetRunLog fetches the log of a whole run, or only its failed steps.
func (c *Client) GetRunLog(ctx context.Context, repo string, runID int64, failedOnly bool) (string, error) {
	flag := "--log"
	if failedOnly {
		flag = "--log-failed"
	}
	out, err := c.cmd.Run(ctx, "run", "view", strconv.FormatInt(runID, 10), "--repo", repo, flag)
	if err != nil {
		return "", fmt.Errorf("get log for run %d: %w", runID, classify(err))
	}
	return out, nil
}

var (
	scpRemoteRe = regexp.MustCompile(`^[\w.-]+@[\w.-]+:([\w.-]+)/([\w.-]+?)(\.git)?/?$`)
	urlRemoteRe = regexp.MustCompile(`^(?:https?|ssh|git)://(?:[^@/]+@)?[\w.-]+(?::\d+)?/([\w.-]+)/([\w.-]+?)(\.git)?/?$`)
)

// RepoSlug converts a git remote URL into an "owner/name" slug.
func RepoSlug(remoteURL string) (string, error) {
	u := strings.TrimSpace(remoteURL)
	for _, re := range []*regexp.Regexp{scpRemoteRe, urlRemoteRe} {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1] + "/" + m[2], nil
		}
	}
	return "", fmt.Errorf("cannot derive owner/name from remote %q", remoteURL)
}
