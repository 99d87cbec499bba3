package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	appCompliance "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/compliance"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	domainCompliance "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

type catalogRequest struct {
	Rules  []*domainCompliance.Rule  `json:"rules"`
	Groups []*domainCompliance.Group `json:"groups"`
}

func connectorParams(r *http.Request) (uuid.UUID, domainCompliance.Kind, error) {
	id, err := parseUUIDParam(r, "connectorUuid")
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, domainCompliance.Kind(chiParam(r, "kind")), nil
}

func (s *Server) syncCatalog(w http.ResponseWriter, r *http.Request) {
	connectorUUID, kind, err := connectorParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid connectorUuid")
		return
	}
	var req catalogRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.index.SyncCatalog(r.Context(), connectorUUID, kind, req.Rules, req.Groups); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	connectorUUID, kind, err := connectorParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid connectorUuid")
		return
	}
	rules, err := s.index.ListRules(r.Context(), connectorUUID, kind)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	connectorUUID, kind, err := connectorParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid connectorUuid")
		return
	}
	groups, err := s.index.ListGroups(r.Context(), connectorUUID, kind)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) saveComplianceProfile(w http.ResponseWriter, r *http.Request) {
	var p domainCompliance.Profile
	if err := decodeBody(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.engine.SaveProfile(r.Context(), &p); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) getComplianceProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	p, err := s.engine.GetProfile(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) listComplianceProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.engine.ListProfiles(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"complianceProfiles": profiles})
}

// checkProfile starts a profile-wide batch and answers before it runs.
func (s *Server) checkProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	if _, err := s.engine.GetProfile(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.engine.CheckProfileAsync(id))
}

func (s *Server) checkAllProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.engine.ListProfiles(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	acks := make([]appCompliance.BatchAck, 0, len(profiles))
	for _, p := range profiles {
		acks = append(acks, s.engine.CheckProfileAsync(p.UUID))
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"batches": acks})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "batchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid batchId")
		return
	}
	report, err := s.engine.Batch(id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) registerCertificate(w http.ResponseWriter, r *http.Request) {
	var cert certificate.Certificate
	if err := decodeBody(r, &cert); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	// Results are only ever written by a compliance check.
	cert.ValidationResult = nil
	if err := s.engine.RegisterCertificate(r.Context(), &cert); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cert)
}

func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "certificateUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid certificateUuid")
		return
	}
	cert, err := s.engine.GetCertificate(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cert)
}

func (s *Server) checkCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "certificateUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid certificateUuid")
		return
	}
	result, err := s.engine.CheckCertificate(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
