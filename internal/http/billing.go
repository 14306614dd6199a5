package httpapi

import (
	"net/http"
)

func (s *Server) handleBillingSummary(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	summary, err := s.deps.Summaries.Summarize(r.Context(), subject.ID, subject.Email)
	if err != nil {
		s.respondServiceError(w, r, err, "store")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleBillingPortal(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	url, err := s.deps.Portal.URL(r.Context(), subject.ID, subject.Email)
	if err != nil {
		s.respondServiceError(w, r, err, "stripe")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleBillingPortalRedirect 浏览器直接访问时跳转到托管页面
func (s *Server) handleBillingPortalRedirect(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	url, err := s.deps.Portal.URL(r.Context(), subject.ID, subject.Email)
	if err != nil {
		s.respondServiceError(w, r, err, "stripe")
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (s *Server) handleBillingCustomer(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	customerID, err := s.deps.Resolver.Resolve(r.Context(), subject.ID, subject.Email)
	if err != nil {
		s.respondServiceError(w, r, err, "stripe")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"customer_id": customerID})
}
