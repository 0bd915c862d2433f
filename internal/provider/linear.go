package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultLinearEndpoint = "https://api.linear.app/graphql"

const fetchPageSize = 50

// linearProvider talks to the Linear GraphQL API.
type linearProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	teamID   string
	logger   *log.Logger
}

func newLinear(cfg Config, logger *log.Logger) (*linearProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("linear provider requires an api key")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultLinearEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &linearProvider{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		teamID:   cfg.TeamID,
		logger:   logger,
	}, nil
}

func (p *linearProvider) Name() string {
	return string(KindLinear)
}

// issueNode mirrors the fields requested by the issue queries.
type issueNode struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	URL         string `json:"url"`
	State       struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
	Assignee *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"assignee"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Project *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	Cycle *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"cycle"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (n *issueNode) record() *Record {
	rec := &Record{
		ID:          n.Identifier,
		Title:       n.Title,
		Description: n.Description,
		StateName:   n.State.Name,
		StateType:   n.State.Type,
		Priority:    n.Priority,
		URL:         n.URL,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
	if n.Assignee != nil {
		rec.AssigneeID = n.Assignee.ID
		rec.AssigneeName = n.Assignee.Name
	}
	for _, l := range n.Labels.Nodes {
		rec.Labels = append(rec.Labels, l.Name)
	}
	if n.Project != nil {
		rec.EpicID = n.Project.ID
		rec.EpicName = n.Project.Name
	}
	if n.Cycle != nil {
		rec.SprintID = n.Cycle.ID
		rec.SprintName = n.Cycle.Name
	}
	return rec
}

const issueFields = `
	identifier title description priority url
	state { name type }
	assignee { id name }
	labels { nodes { name } }
	project { id name }
	cycle { id name }
	createdAt updatedAt
`

func (p *linearProvider) FetchItems(ctx context.Context, since *time.Time) (ItemStream, error) {
	return &linearStream{p: p, ctx: ctx, since: since, hasMore: true}, nil
}

// linearStream pages through the issues query lazily. Each Next call serves
// from the current page and fetches the following one only when drained.
type linearStream struct {
	p       *linearProvider
	ctx     context.Context
	since   *time.Time
	cursor  string
	buf     []*Record
	hasMore bool
	closed  bool
}

func (s *linearStream) Next() (*Record, error) {
	if s.closed {
		return nil, fmt.Errorf("stream is closed")
	}
	for len(s.buf) == 0 {
		if !s.hasMore {
			return nil, io.EOF
		}
		if err := s.fetchPage(); err != nil {
			return nil, err
		}
	}
	rec := s.buf[0]
	s.buf = s.buf[1:]
	return rec, nil
}

func (s *linearStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}

func (s *linearStream) fetchPage() error {
	query := `
	query Issues($first: Int!, $after: String, $filter: IssueFilter) {
		issues(first: $first, after: $after, filter: $filter) {
			nodes {` + issueFields + `}
			pageInfo { hasNextPage endCursor }
		}
	}`

	filter := map[string]any{}
	if s.p.teamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": s.p.teamID}}
	}
	if s.since != nil {
		filter["updatedAt"] = map[string]any{"gt": s.since.UTC().Format(time.RFC3339)}
	}
	vars := map[string]any{"first": fetchPageSize, "filter": filter}
	if s.cursor != "" {
		vars["after"] = s.cursor
	}

	var resp struct {
		Issues struct {
			Nodes    []issueNode `json:"nodes"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	}
	if err := s.p.do(s.ctx, "fetch issues", query, vars, &resp); err != nil {
		return err
	}

	for i := range resp.Issues.Nodes {
		s.buf = append(s.buf, resp.Issues.Nodes[i].record())
	}
	s.hasMore = resp.Issues.PageInfo.HasNextPage
	s.cursor = resp.Issues.PageInfo.EndCursor
	return nil
}

func (p *linearProvider) FetchItem(ctx context.Context, providerID string) (*Record, error) {
	query := `
	query Issue($id: String!) {
		issue(id: $id) {` + issueFields + `}
	}`

	var resp struct {
		Issue *issueNode `json:"issue"`
	}
	if err := p.do(ctx, "fetch issue", query, map[string]any{"id": providerID}, &resp); err != nil {
		return nil, err
	}
	if resp.Issue == nil {
		return nil, fmt.Errorf("%s: %w", providerID, ErrItemNotFound)
	}
	return resp.Issue.record(), nil
}

// ApplyPatch checks the remote item against the patch base before mutating.
// A remote updated_at past the base means someone else changed the item, so
// the patch is rejected with a ConflictError and nothing is written.
func (p *linearProvider) ApplyPatch(ctx context.Context, providerID string, patch Patch) (*Record, error) {
	current, err := p.FetchItem(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if patch.BaseUpdatedAt != nil && current.UpdatedAt.After(*patch.BaseUpdatedAt) {
		return nil, &ConflictError{ProviderID: providerID, RemoteUpdatedAt: current.UpdatedAt}
	}

	input := map[string]any{}
	for field, value := range patch.Fields {
		switch field {
		case "title":
			input["title"] = value
		case "description":
			input["description"] = value
		case "priority":
			if prio, ok := value.(int); ok {
				input["priority"] = DenormalizePriority(prio)
			} else if prio, ok := value.(float64); ok {
				input["priority"] = DenormalizePriority(int(prio))
			}
		case "assignee":
			input["assigneeId"] = value
		case "status":
			stateID, err := p.resolveStateID(ctx, fmt.Sprintf("%v", value))
			if err != nil {
				return nil, err
			}
			input["stateId"] = stateID
		default:
			p.logger.Printf("[linear] ignoring unknown patch field %q for %s", field, providerID)
		}
	}

	query := `
	mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) {
			success
			issue {` + issueFields + `}
		}
	}`

	var resp struct {
		IssueUpdate struct {
			Success bool       `json:"success"`
			Issue   *issueNode `json:"issue"`
		} `json:"issueUpdate"`
	}
	vars := map[string]any{"id": providerID, "input": input}
	if err := p.do(ctx, "update issue", query, vars, &resp); err != nil {
		return nil, err
	}
	if !resp.IssueUpdate.Success || resp.IssueUpdate.Issue == nil {
		return nil, &RequestError{Op: "update issue", Err: fmt.Errorf("mutation reported failure for %s", providerID)}
	}
	return resp.IssueUpdate.Issue.record(), nil
}

// resolveStateID matches a state name (or a category name like
// "in_progress") against the team's workflow states.
func (p *linearProvider) resolveStateID(ctx context.Context, state string) (string, error) {
	query := `
	query States($filter: WorkflowStateFilter) {
		workflowStates(filter: $filter) {
			nodes { id name type }
		}
	}`

	filter := map[string]any{}
	if p.teamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": p.teamID}}
	}
	var resp struct {
		WorkflowStates struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"nodes"`
		} `json:"workflowStates"`
	}
	if err := p.do(ctx, "fetch workflow states", query, map[string]any{"filter": filter}, &resp); err != nil {
		return "", err
	}

	for _, node := range resp.WorkflowStates.Nodes {
		if strings.EqualFold(node.Name, state) {
			return node.ID, nil
		}
	}
	// Fall back to matching the category bucket.
	wanted := map[string]string{
		"todo":        "unstarted",
		"in_progress": "started",
		"done":        "completed",
		"canceled":    "canceled",
	}[strings.ToLower(state)]
	for _, node := range resp.WorkflowStates.Nodes {
		if node.Type == wanted {
			return node.ID, nil
		}
	}
	return "", fmt.Errorf("no workflow state matches %q", state)
}

// do executes one GraphQL request.
func (p *linearProvider) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		return &RequestError{Op: op, Err: fmt.Errorf("graphql: %s", envelope.Errors[0].Message)}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("failed to decode data: %w", err)}
		}
	}
	return nil
}
