package api

import (
	"net/http"

	"cvrp/internal/auth"
)

// principal verifies the request's bearer token. With auth off every caller
// is the anonymous admin.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	return s.Auth.FromHeader(r.Header.Get("Authorization"))
}

// authorize writes a 401 or 403 problem and returns false when the caller
// is not allowed; need is nil for read-only access.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, need func(auth.Principal) bool) (auth.Principal, bool) {
	pr, err := s.principal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cvrp"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return pr, false
	}
	if need != nil && !need(pr) {
		writeProblem(w, http.StatusForbidden, "Forbidden", auth.ErrForbidden.Error(), r.URL.Path)
		return pr, false
	}
	return pr, true
}

// ownerFilter is the ListRuns owner for pr: admins see every run.
func ownerFilter(pr auth.Principal) string {
	if pr.IsAdmin() {
		return ""
	}
	return pr.Subject
}

// canRead reports whether pr may see a run owned by owner.
func canRead(pr auth.Principal, owner string) bool {
	return pr.IsAdmin() || owner == "" || pr.Subject == owner
}
