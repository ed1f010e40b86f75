package console

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/phillip-england/marketadmin/internal/middleware"
)

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/assets/{file:app\\.(?:css|js)}", s.asset).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusFound)
	}).Methods(http.MethodGet)
	r.HandleFunc("/login", s.loginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	admin := r.NewRoute().Subrouter()
	admin.Use(s.requireSession, s.requireFormToken)
	admin.HandleFunc("/admin", s.adminPage).Methods(http.MethodGet)
	admin.HandleFunc("/admin/fragment", s.fragment).Methods(http.MethodGet)
	admin.HandleFunc("/admin/refresh", s.refresh).Methods(http.MethodPost)
	admin.HandleFunc("/admin/export/{section}", s.export).Methods(http.MethodGet)
	admin.HandleFunc("/admin/users/bulk-block", s.bulkBlock).Methods(http.MethodPost)
	admin.HandleFunc("/admin/estimations/{id}/files", s.uploadEstimationFile).Methods(http.MethodPost)
	admin.HandleFunc("/admin/estimations/{id}/files.tar.xz", s.downloadEstimationFiles).Methods(http.MethodGet)
	admin.HandleFunc("/admin/estimations/{id}/files/{fileId}", s.downloadEstimationFile).Methods(http.MethodGet)
	admin.HandleFunc("/actions/{action}", s.action).Methods(http.MethodPost)
	admin.HandleFunc("/notifications/{id}/dismiss", s.dismissNotification).Methods(http.MethodPost)
	admin.HandleFunc("/notifications/{id}/actions/{index:[0-9]+}", s.invokeNotification).Methods(http.MethodPost)
	admin.HandleFunc("/modal/close", s.closeModal).Methods(http.MethodPost)
	admin.HandleFunc("/modal/key", s.modalKey).Methods(http.MethodPost)
	admin.HandleFunc("/modal/overlay", s.modalOverlay).Methods(http.MethodPost)

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"script-src 'self'",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.Logger(s.logger),
		middleware.Recovery(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}
