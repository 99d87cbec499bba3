package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	domainProfile "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
)

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req domainProfile.Request
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	view, err := s.profileSvc.Create(r.Context(), req, *actorFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) editProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	var req domainProfile.Request
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	view, err := s.profileSvc.Edit(r.Context(), id, req, *actorFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	var version *int
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid version")
			return
		}
		version = &n
	}
	view, err := s.profileSvc.Get(r.Context(), id, version)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 1000)
	filter := domainProfile.Filter{Name: queryString(r, "name")}
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid enabled")
			return
		}
		filter.Enabled = &b
	}
	res, err := s.profileSvc.List(r.Context(), filter, filterFromContext(r.Context()), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) listProfileVersions(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	versions, err := s.profileSvc.ListVersions(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) enableProfile(w http.ResponseWriter, r *http.Request) {
	s.toggleProfile(w, r, s.profileSvc.Enable)
}

func (s *Server) disableProfile(w http.ResponseWriter, r *http.Request) {
	s.toggleProfile(w, r, s.profileSvc.Disable)
}

func (s *Server) toggleProfile(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	if err := fn(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "profileUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid profileUuid")
		return
	}
	if err := s.profileSvc.Delete(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bulkDeleteProfiles(w http.ResponseWriter, r *http.Request) {
	var ids []uuid.UUID
	if err := decodeBody(r, &ids); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	errs := s.profileSvc.BulkDelete(r.Context(), ids)
	if len(errs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"errors": errs})
}
