package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// Identity and visibility are resolved by the gateway in front of the core
// and forwarded as headers.
const (
	headerUserUUID         = "X-User-UUID"
	headerUsername         = "X-Username"
	headerUserRoles        = "X-User-Roles"
	headerAllowedObjects   = "X-Allowed-Objects"
	headerForbiddenObjects = "X-Forbidden-Objects"
)

// identify attaches the caller and its visibility filter to the request context.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if v := strings.TrimSpace(r.Header.Get(headerUserUUID)); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid "+headerUserUUID)
				return
			}
			ctx = withActor(ctx, &security.Actor{
				UserUUID: id,
				Username: strings.TrimSpace(r.Header.Get(headerUsername)),
				Roles:    splitCSV(r.Header.Get(headerUserRoles)),
			})
		}

		filter := security.AllowAll()
		if v, ok := r.Header[http.CanonicalHeaderKey(headerAllowedObjects)]; ok {
			ids, err := parseUUIDList(strings.Join(v, ","))
			if err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid "+headerAllowedObjects)
				return
			}
			filter.AreOnlySpecificObjectsAllowed = true
			filter.AllowedObjects = ids
		}
		if v := r.Header.Get(headerForbiddenObjects); v != "" {
			ids, err := parseUUIDList(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid "+headerForbiddenObjects)
				return
			}
			filter.ForbiddenObjects = ids
		}
		next.ServeHTTP(w, r.WithContext(withFilter(ctx, filter)))
	})
}

func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFromContext(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+headerUserUUID)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseUUIDList(s string) ([]uuid.UUID, error) {
	out := []uuid.UUID{}
	for _, p := range splitCSV(s) {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
