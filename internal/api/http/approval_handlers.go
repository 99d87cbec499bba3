package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	domainApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
)

type approvalRequest struct {
	ProfileUUID  uuid.UUID       `json:"approvalProfileUuid"`
	ResourceType string          `json:"resource"`
	Action       string          `json:"resourceAction"`
	ObjectUUID   uuid.UUID       `json:"objectUuid"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type voteRequest struct {
	// StepOrder defaults to the approval's current step.
	StepOrder *int    `json:"stepOrder,omitempty"`
	Comment   *string `json:"comment,omitempty"`
}

func (s *Server) requestApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	actor := actorFromContext(r.Context())
	a, err := s.approvalSvc.RequestApproval(r.Context(), req.ProfileUUID, req.ResourceType, req.Action, req.ObjectUUID, actor.UserUUID, req.Payload)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 1000)
	filter := domainApproval.Filter{
		ResourceType: queryString(r, "resource"),
		Action:       queryString(r, "resourceAction"),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domainApproval.Status(strings.ToUpper(v))
		filter.Status = &st
	}
	var err error
	if filter.ObjectUUID, err = queryUUID(r, "objectUuid"); err != nil {
		s.respondServiceError(w, err)
		return
	}
	if filter.RequesterUUID, err = queryUUID(r, "creatorUuid"); err != nil {
		s.respondServiceError(w, err)
		return
	}
	if filter.ProfileUUID, err = queryUUID(r, "approvalProfileUuid"); err != nil {
		s.respondServiceError(w, err)
		return
	}
	page, err := s.approvalSvc.List(r.Context(), filter, filterFromContext(r.Context()), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) listUserApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 1000)
	page, err := s.approvalSvc.ListUserApprovals(r.Context(), *actorFromContext(r.Context()), filterFromContext(r.Context()), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "approvalUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid approvalUuid")
		return
	}
	detail, err := s.approvalSvc.GetApprovalDetail(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) approveApproval(w http.ResponseWriter, r *http.Request) {
	s.vote(w, r, domainApproval.DecisionApprove)
}

func (s *Server) rejectApproval(w http.ResponseWriter, r *http.Request) {
	s.vote(w, r, domainApproval.DecisionReject)
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request, decision domainApproval.Decision) {
	id, err := parseUUIDParam(r, "approvalUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid approvalUuid")
		return
	}
	var req voteRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}

	step := req.StepOrder
	if step == nil {
		detail, err := s.approvalSvc.GetApprovalDetail(r.Context(), id)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		if detail.CurrentStep == nil {
			s.respondServiceError(w, apperr.Validation("approval %s is %s and accepts no votes", id, detail.Approval.Status))
			return
		}
		step = detail.CurrentStep
	}

	a, err := s.approvalSvc.CastVote(r.Context(), id, *step, *actorFromContext(r.Context()), decision, req.Comment)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}
