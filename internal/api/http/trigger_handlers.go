package httpapi

import (
	"net/http"

	domainTrigger "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
)

func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	var t domainTrigger.Trigger
	if err := decodeBody(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	created, err := s.triggerSvc.Create(r.Context(), &t)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "triggerUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid triggerUuid")
		return
	}
	var t domainTrigger.Trigger
	if err := decodeBody(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	updated, err := s.triggerSvc.Update(r.Context(), id, &t)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "triggerUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid triggerUuid")
		return
	}
	t, err := s.triggerSvc.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	items, err := s.triggerSvc.List(r.Context(), domainTrigger.Filter{
		ResourceType: queryString(r, "resource"),
		Event:        queryString(r, "event"),
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"triggers": items})
}

func (s *Server) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "triggerUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid triggerUuid")
		return
	}
	if err := s.triggerSvc.Delete(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// processEvent runs the triggers of an event against its object. The
// requester of any approval opened on the way is the caller.
func (s *Server) processEvent(w http.ResponseWriter, r *http.Request) {
	var ev domainTrigger.Event
	if err := decodeBody(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	ev.RequesterUUID = actorFromContext(r.Context()).UserUUID
	out, err := s.triggerSvc.Process(r.Context(), ev)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) saveObject(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "objectUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid objectUuid")
		return
	}
	var obj domainTrigger.Object
	if err := decodeBody(r, &obj); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	obj.UUID = id
	obj.ResourceType = chiParam(r, "resource")
	if err := s.triggerSvc.SaveObject(r.Context(), &obj); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "objectUuid")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid objectUuid")
		return
	}
	obj, err := s.triggerSvc.GetObject(r.Context(), chiParam(r, "resource"), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}
