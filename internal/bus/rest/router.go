package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the PEL daemon's operator
// REST API.
//
// Route layout:
//
//	GET    /healthz                        – liveness probe (no authentication required)
//	GET    /api/v1/pels                    – list tracked PELs
//	GET    /api/v1/pels/{id}               – fetch one PEL's attributes (or raw bytes via ?raw=true)
//	GET    /api/v1/pels/{id}/json          – fetch one PEL rendered as JSON
//	GET    /api/v1/pels/{id}/pel-id        – map an obmc log id to its PEL id
//	POST   /api/v1/pels                    – create a PEL from the message registry
//	POST   /api/v1/pels/ffdc               – create a PEL with attached FFDC files
//	DELETE /api/v1/pels/{id}                – erase a PEL
//	GET    /api/v1/pel-ids/{id}/obmc-log-id – map a PEL id back to its obmc log id
//	GET    /api/v1/hardware-present         – check hardware presence for a callout inventory path
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes. Pass nil to disable JWT validation (useful in tests that
// cover only request parsing / response formatting).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/pels", srv.handleListPELs)
		r.Post("/pels", srv.handleCreatePEL)
		r.Post("/pels/ffdc", srv.handleCreatePELWithFFDCFiles)
		r.Get("/pels/{id}", srv.handleGetPEL)
		r.Get("/pels/{id}/json", srv.handleGetPELJSON)
		r.Get("/pels/{id}/pel-id", srv.handleGetPELIdFromBMCLogId)
		r.Delete("/pels/{id}", srv.handleErasePEL)
		r.Get("/pel-ids/{id}/obmc-log-id", srv.handleGetBMCLogIdFromPELId)
		r.Get("/hardware-present", srv.handleHardwarePresent)
	})

	return r
}
