package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/approval"
	appCompliance "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/compliance"
	appProfile "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/profile"
	appTrigger "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/trigger"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	profileSvc  *appProfile.Service
	approvalSvc *appApproval.Service
	engine      *appCompliance.Engine
	index       *appCompliance.Index
	triggerSvc  *appTrigger.Service
	sseHub      *sse.Hub
	metrics     http.Handler
	logger      zerolog.Logger
}

func NewServer(
	profileSvc *appProfile.Service,
	approvalSvc *appApproval.Service,
	engine *appCompliance.Engine,
	index *appCompliance.Index,
	triggerSvc *appTrigger.Service,
	sseHub *sse.Hub,
	metrics http.Handler,
	logger zerolog.Logger,
) *Server {
	return &Server{
		profileSvc:  profileSvc,
		approvalSvc: approvalSvc,
		engine:      engine,
		index:       index,
		triggerSvc:  triggerSvc,
		sseHub:      sseHub,
		metrics:     metrics,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.identify)

		// The event stream is long lived and must not be cut by the timeout middleware.
		r.With(s.requireActor).Get("/notifications/sse", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/approvalProfiles", func(r chi.Router) {
				r.Get("/", s.listProfiles)
				r.With(s.requireActor).Post("/", s.createProfile)
				r.Post("/delete", s.bulkDeleteProfiles)
				r.Get("/{profileUuid}", s.getProfile)
				r.Get("/{profileUuid}/versions", s.listProfileVersions)
				r.With(s.requireActor).Put("/{profileUuid}", s.editProfile)
				r.Patch("/{profileUuid}/enable", s.enableProfile)
				r.Patch("/{profileUuid}/disable", s.disableProfile)
				r.Delete("/{profileUuid}", s.deleteProfile)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", s.listApprovals)
				r.With(s.requireActor).Post("/", s.requestApproval)
				r.With(s.requireActor).Get("/user", s.listUserApprovals)
				r.Get("/{approvalUuid}", s.getApproval)
				r.With(s.requireActor).Post("/{approvalUuid}/approve", s.approveApproval)
				r.With(s.requireActor).Post("/{approvalUuid}/reject", s.rejectApproval)
			})

			r.Route("/compliance", func(r chi.Router) {
				r.Put("/connectors/{connectorUuid}/{kind}", s.syncCatalog)
				r.Get("/connectors/{connectorUuid}/{kind}/rules", s.listRules)
				r.Get("/connectors/{connectorUuid}/{kind}/groups", s.listGroups)
				r.Get("/batches/{batchId}", s.getBatch)
			})

			r.Route("/complianceProfiles", func(r chi.Router) {
				r.Get("/", s.listComplianceProfiles)
				r.Post("/", s.saveComplianceProfile)
				r.Post("/check", s.checkAllProfiles)
				r.Get("/{profileUuid}", s.getComplianceProfile)
				r.Post("/{profileUuid}/check", s.checkProfile)
			})

			r.Route("/certificates", func(r chi.Router) {
				r.Post("/", s.registerCertificate)
				r.Get("/{certificateUuid}", s.getCertificate)
				r.Post("/{certificateUuid}/compliance", s.checkCertificate)
			})

			r.Route("/triggers", func(r chi.Router) {
				r.Get("/", s.listTriggers)
				r.Post("/", s.createTrigger)
				r.With(s.requireActor).Post("/events", s.processEvent)
				r.Get("/{triggerUuid}", s.getTrigger)
				r.Put("/{triggerUuid}", s.updateTrigger)
				r.Delete("/{triggerUuid}", s.deleteTrigger)
			})

			r.Route("/objects/{resource}/{objectUuid}", func(r chi.Router) {
				r.Get("/", s.getObject)
				r.Put("/", s.saveObject)
			})
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps the apperr taxonomy onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, apperr.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, apperr.ErrConnector):
		respondError(w, http.StatusBadGateway, "CONNECTOR_ERROR", err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Validation("invalid %s", key)
	}
	return &id, nil
}

func queryString(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

func chiParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
