// ABOUTME: Todoist REST client that turns approved task proposals into tasks
// ABOUTME: Resolves project names, creating projects on first use

// Package todoist creates tasks through the Todoist REST API.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/tool-bot/internal/proposal"
)

const maxErrorBody = 512

// Client talks to the Todoist REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	projects map[string]string // name -> id
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		http:     httpClient,
		logger:   logger.With("component", "todoist"),
		projects: make(map[string]string),
	}
}

// Task is a created task.
type Task struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id"`
	URL       string `json:"url"`
}

// TaskRequest describes a task to create.
type TaskRequest struct {
	Content   string   `json:"content"`
	Priority  int      `json:"priority,omitempty"`
	DueString string   `json:"due_string,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// Project is a Todoist project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, requestID string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("todoist %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("todoist %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding todoist response: %w", err)
		}
	}
	return nil
}

// CreateTask creates a task. requestID makes retries idempotent.
func (c *Client) CreateTask(ctx context.Context, task TaskRequest, requestID string) (Task, error) {
	var created Task
	if err := c.do(ctx, http.MethodPost, "/tasks", task, requestID, &created); err != nil {
		return Task{}, err
	}
	c.logger.Info("created task", "task_id", created.ID, "content", task.Content)
	return created, nil
}

// Projects lists all projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, "", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var p Project
	if err := c.do(ctx, http.MethodPost, "/projects", map[string]string{"name": name}, "", &p); err != nil {
		return Project{}, err
	}
	c.logger.Info("created project", "project_id", p.ID, "name", name)
	return p, nil
}

// ProjectID returns the id of the named project, creating it if needed.
func (c *Client) ProjectID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.projects[name]; ok {
		return id, nil
	}

	projects, err := c.Projects(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		c.projects[p.Name] = p.ID
	}
	if id, ok := c.projects[name]; ok {
		return id, nil
	}

	p, err := c.CreateProject(ctx, name)
	if err != nil {
		return "", err
	}
	c.projects[p.Name] = p.ID
	return p.ID, nil
}

// Execute creates the task an approved proposal describes and returns the
// task id.
func (c *Client) Execute(ctx context.Context, p *proposal.Proposal) (string, error) {
	if p.Kind != proposal.KindTask {
		return "", fmt.Errorf("todoist cannot execute %s proposals", p.Kind)
	}

	priority := p.ArgInt("priority", 1)
	if priority < 1 || priority > 4 {
		priority = 1
	}
	req := TaskRequest{
		Content:   p.Arg("content"),
		Priority:  priority,
		DueString: p.Arg("due_string"),
		Labels:    p.ArgStrings("labels"),
	}
	if req.Content == "" {
		return "", fmt.Errorf("task has no content")
	}

	if name := p.Arg("project_name"); name != "" {
		id, err := c.ProjectID(ctx, name)
		if err != nil {
			return "", fmt.Errorf("resolving project %q: %w", name, err)
		}
		req.ProjectID = id
	}

	task, err := c.CreateTask(ctx, req, p.RequestKey())
	if err != nil {
		return "", err
	}
	return task.ID, nil
}
