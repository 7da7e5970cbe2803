package ftsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"facilitrack/internal/domain"
)

// Client is a minimal facilitrack HTTP API client. It satisfies the store
// interfaces of the relationship board and the subtask grid.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// TasksByMilestone lists the tasks of a milestone.
func (c *Client) TasksByMilestone(ctx context.Context, milestoneID domain.ID) ([]domain.Task, error) {
	var resp itemsEnvelope[domain.Task]
	endpoint := fmt.Sprintf("milestones/%s/tasks", url.PathEscape(milestoneID.String()))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Task fetches one task with its dependency records and subtasks.
func (c *Client) Task(ctx context.Context, id domain.ID) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id.String()), nil, &resp)
	return resp, err
}

// CreateTask creates a milestone task.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// CreateTaskInput is the body of CreateTask.
type CreateTaskInput struct {
	Title               string      `json:"title"`
	MilestoneID         domain.ID   `json:"milestone_id"`
	ProjectManagementID domain.ID   `json:"project_management_id"`
	Status              string      `json:"status,omitempty"`
	StartDate           domain.Date `json:"start_date"`
	EndDate             domain.Date `json:"end_date"`
}

func (c *Client) CreateDependency(ctx context.Context, p domain.DependencyPayload) (domain.Dependency, error) {
	var resp domain.Dependency
	err := c.do(ctx, http.MethodPost, "task_dependencies", p, &resp)
	return resp, err
}

func (c *Client) UpdateDependency(ctx context.Context, id domain.ID, p domain.DependencyPayload) (domain.Dependency, error) {
	var resp domain.Dependency
	err := c.do(ctx, http.MethodPatch, "task_dependencies/"+url.PathEscape(id.String()), p, &resp)
	return resp, err
}

func (c *Client) CreateSubtask(ctx context.Context, in domain.SubtaskCreate) (domain.Subtask, error) {
	var resp domain.Subtask
	err := c.do(ctx, http.MethodPost, "sub_tasks_managements", in, &resp)
	return resp, err
}

// UpdateSubtask sends a partial update; only the keys in patch change.
func (c *Client) UpdateSubtask(ctx context.Context, id domain.ID, patch domain.SubtaskPatch) (domain.Subtask, error) {
	var resp domain.Subtask
	err := c.do(ctx, http.MethodPatch, "sub_tasks_managements/"+url.PathEscape(id.String()), patch, &resp)
	return resp, err
}

// Tags returns the global tag catalog.
func (c *Client) Tags(ctx context.Context) ([]domain.Tag, error) {
	var resp itemsEnvelope[domain.Tag]
	err := c.do(ctx, http.MethodGet, "task_tags", nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateTag(ctx context.Context, name string) (domain.Tag, error) {
	var resp domain.Tag
	err := c.do(ctx, http.MethodPost, "task_tags", map[string]any{"name": name}, &resp)
	return resp, err
}

// Health checks the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
