package server

import (
	"trackline/internal/domain"
)

// Request payloads

type CreateWorkstreamRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateUnitRequest struct {
	ID                 *string  `json:"id,omitempty"`
	WorkstreamID       string   `json:"workstream_id"`
	Name               string   `json:"name"`
	RequiredProofCount int      `json:"required_proof_count"`
	RequiredProofTypes []string `json:"required_proof_types,omitempty"`
	Deadline           string   `json:"deadline" format:"date-time"`
	AlertProfile       string   `json:"alert_profile,omitempty"`
	CustomThresholds   []int    `json:"custom_thresholds,omitempty"`
	HighCriticality    bool     `json:"high_criticality,omitempty"`
}

type SubmitProofRequest struct {
	Type string `json:"type"`
}

type DecideProofRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
	Reason   string `json:"reason,omitempty"`
}

type BlockRequest struct {
	Reason string `json:"reason"`
}

type EscalateRequest struct {
	Level       int    `json:"level" minimum:"1" maximum:"3"`
	Reason      string `json:"reason,omitempty"`
	MarkBlocked bool   `json:"mark_blocked,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type SetActorRoleRequest struct {
	Role string `json:"role" enum:"viewer,contributor,lead,owner,admin"`
}

// Response payloads

type WorkstreamResponse struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkstreamStatusResponse struct {
	WorkstreamID string              `json:"workstream_id"`
	Status       string              `json:"status" enum:"red,green,blocked,empty"`
	Units        []UnitStatusSummary `json:"units"`
}

type UnitStatusSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	EscalationLevel int    `json:"escalation_level"`
	Deadline        string `json:"deadline" format:"date-time"`
}

type TickResponse struct {
	Raised []domain.Escalation `json:"raised"`
}

func workstreamResponse(w domain.Workstream) WorkstreamResponse {
	return WorkstreamResponse{
		ID:        w.ID,
		ProgramID: w.ProgramID,
		Name:      w.Name,
		Archived:  w.Archived,
		CreatedAt: w.CreatedAt,
	}
}

func mapWorkstreams(items []domain.Workstream) []WorkstreamResponse {
	out := make([]WorkstreamResponse, 0, len(items))
	for _, w := range items {
		out = append(out, workstreamResponse(w))
	}
	return out
}

func unitSummaries(units []domain.Unit) []UnitStatusSummary {
	out := make([]UnitStatusSummary, 0, len(units))
	for _, u := range units {
		out = append(out, UnitStatusSummary{
			ID:              u.ID,
			Name:            u.Name,
			Status:          string(u.Status),
			EscalationLevel: u.EscalationLevel,
			Deadline:        u.Deadline,
		})
	}
	return out
}
