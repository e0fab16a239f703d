package tracklinesdk

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
)

// Client is a minimal Trackline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Workstream represents the API workstream model.
type Workstream struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at"`
}

// Unit represents the API unit model (partial).
type Unit struct {
	ID                 string   `json:"id"`
	WorkstreamID       string   `json:"workstream_id"`
	Name               string   `json:"name"`
	Status             string   `json:"status"`
	RequiredProofCount int      `json:"required_proof_count"`
	RequiredProofTypes []string `json:"required_proof_types"`
	Deadline           string   `json:"deadline"`
	EscalationLevel    int      `json:"escalation_level"`
	Blocked            bool     `json:"blocked"`
	Confirmed          bool     `json:"confirmed"`
}

// Proof represents a ledger entry.
type Proof struct {
	ID         string `json:"id"`
	UnitID     string `json:"unit_id"`
	Type       string `json:"type"`
	UploadedBy string `json:"uploaded_by"`
	Approval   string `json:"approval"`
	Valid      bool   `json:"valid"`
	Superseded bool   `json:"superseded"`
	CreatedAt  string `json:"created_at"`
}

// Escalation represents a raised alert.
type Escalation struct {
	ID         string `json:"id"`
	UnitID     string `json:"unit_id"`
	Level      int    `json:"level"`
	Trigger    string `json:"trigger"`
	Resolution string `json:"resolution"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Event represents an audit trail entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	UnitID    string         `json:"unit_id,omitempty"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// WorkstreamStatus is the aggregated roll-up for one workstream.
type WorkstreamStatus struct {
	WorkstreamID string `json:"workstream_id"`
	Status       string `json:"status"`
	Units        []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Status          string `json:"status"`
		EscalationLevel int    `json:"escalation_level"`
		Deadline        string `json:"deadline"`
	} `json:"units"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// CreateWorkstream creates a workstream.
func (c *Client) CreateWorkstream(ctx context.Context, id, name string) (Workstream, error) {
	body := map[string]any{"id": id, "name": name}
	var resp Workstream
	err := c.do(ctx, http.MethodPost, "v0/workstreams", body, &resp)
	return resp, err
}

// Status returns the aggregated workstream status.
func (c *Client) Status(ctx context.Context, workstreamID string) (WorkstreamStatus, error) {
	var resp WorkstreamStatus
	endpoint := fmt.Sprintf("v0/workstreams/%s/status", url.PathEscape(workstreamID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateUnit creates a unit under a workstream.
func (c *Client) CreateUnit(ctx context.Context, workstreamID, name, deadline string, requireCount int, requireTypes []string) (Unit, error) {
	body := map[string]any{
		"workstream_id":        workstreamID,
		"name":                 name,
		"deadline":             deadline,
		"required_proof_count": requireCount,
		"required_proof_types": requireTypes,
	}
	var resp Unit
	err := c.do(ctx, http.MethodPost, "v0/units", body, &resp)
	return resp, err
}

// SubmitProof submits a pending proof for a unit.
func (c *Client) SubmitProof(ctx context.Context, unitID, proofType string) (Proof, error) {
	body := map[string]any{"type": proofType}
	var resp Proof
	endpoint := fmt.Sprintf("v0/units/%s/proofs", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApproveProof approves a pending proof and returns the re-resolved unit.
func (c *Client) ApproveProof(ctx context.Context, proofID string) (Unit, error) {
	return c.decideProof(ctx, proofID, "approve", "")
}

// RejectProof rejects a pending proof with a reason.
func (c *Client) RejectProof(ctx context.Context, proofID, reason string) (Unit, error) {
	return c.decideProof(ctx, proofID, "reject", reason)
}

func (c *Client) decideProof(ctx context.Context, proofID, decision, reason string) (Unit, error) {
	body := map[string]any{"decision": decision}
	if reason != "" {
		body["reason"] = reason
	}
	var resp struct {
		Unit Unit `json:"unit"`
	}
	endpoint := fmt.Sprintf("v0/proofs/%s/decision", url.PathEscape(proofID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Unit, err
}

// Block blocks a unit, or records a block proposal below lead tier.
func (c *Client) Block(ctx context.Context, unitID, reason string) (Unit, error) {
	body := map[string]any{"reason": reason}
	var resp Unit
	endpoint := fmt.Sprintf("v0/units/%s/block", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Unblock clears a block and re-resolves the unit from its ledger.
func (c *Client) Unblock(ctx context.Context, unitID string) (Unit, error) {
	var resp Unit
	endpoint := fmt.Sprintf("v0/units/%s/unblock", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Escalate raises a manual escalation on a unit.
func (c *Client) Escalate(ctx context.Context, unitID string, level int, reason string) (Escalation, error) {
	body := map[string]any{"level": level, "reason": reason}
	var resp struct {
		Escalation Escalation `json:"escalation"`
	}
	endpoint := fmt.Sprintf("v0/units/%s/escalate", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Escalation, err
}

// Tick runs one escalation evaluation pass and returns raised escalations.
func (c *Client) Tick(ctx context.Context) ([]Escalation, error) {
	var resp struct {
		Raised []Escalation `json:"raised"`
	}
	err := c.do(ctx, http.MethodPost, "v0/ticks", nil, &resp)
	return resp.Raised, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%d", endpoint, sep, cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
