// Package httpapi is the HTTP transport for the three session state
// machines (KeyGen, Sign, Rotate) plus the health endpoint named in the
// external interfaces. Every handler: resolves customer_id from the
// request context (placed there by middleware.AuthMiddleware), resolves
// session_id/ssid from the route, acquires the per-customer protocol lock,
// runs the round body against the Session Store / Scratch Store / mpc
// primitives, and responds.
package httpapi

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/jaydenbeard/gotham-party-one/internal/authn"
	"github.com/jaydenbeard/gotham-party-one/internal/gate"
	"github.com/jaydenbeard/gotham-party-one/internal/protocol"
	"github.com/jaydenbeard/gotham-party-one/internal/scratch"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

var apiLog = log.New(os.Stdout, "[HTTPAPI] ", log.LstdFlags)

// Server holds every collaborator a protocol round handler needs.
type Server struct {
	Store         store.Store
	Scratch       *scratch.RedisStore
	Gate          *gate.Gate
	Coordinator   *protocol.Coordinator
	Audit         *security.AuditLogger
	Authenticator authn.Authenticator
}

func NewServer(st store.Store, sc *scratch.RedisStore, g *gate.Gate, auditLogger *security.AuditLogger, authenticator authn.Authenticator) *Server {
	return &Server{
		Store:         st,
		Scratch:       sc,
		Gate:          g,
		Coordinator:   protocol.NewCoordinator(),
		Audit:         auditLogger,
		Authenticator: authenticator,
	}
}

// Routes builds the full router: the health check is public, every
// /ecdsa/... route requires an authenticated customer_id.
func (s *Server) Routes(authMiddleware func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", HealthCheck).Methods(http.MethodGet)

	ecdsa := r.PathPrefix("/ecdsa").Subrouter()
	ecdsa.Use(authMiddleware)

	ecdsa.HandleFunc("/keygen/first", s.KeyGenFirst).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/first", s.KeyGenFirst).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/{id}/second", s.KeyGenSecond).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/{id}/third", s.KeyGenThird).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/{id}/fourth", s.KeyGenFourth).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/{id}/chaincode/first", s.KeyGenChainCodeFirst).Methods(http.MethodPost)
	ecdsa.HandleFunc("/keygen_v2/{id}/chaincode/second", s.KeyGenChainCodeSecond).Methods(http.MethodPost)

	ecdsa.HandleFunc("/sign/{id}/first", s.SignFirst).Methods(http.MethodPost)
	ecdsa.HandleFunc("/sign/{id}/first_v2", s.SignFirstCrossSession).Methods(http.MethodPost)
	ecdsa.HandleFunc("/sign/{id}/first_v3", s.SignFirstCrossSession).Methods(http.MethodPost)
	ecdsa.HandleFunc("/sign/{id}/second", s.SignSecond).Methods(http.MethodPost)
	ecdsa.HandleFunc("/sign/{id}/second_v2", s.SignSecondV2).Methods(http.MethodPost)
	ecdsa.HandleFunc("/sign/{id}/second_v3", s.SignSecondV3).Methods(http.MethodPost)

	ecdsa.HandleFunc("/rotate/{id}/first", s.RotateFirst).Methods(http.MethodPost)
	ecdsa.HandleFunc("/rotate/{id}/second", s.RotateSecond).Methods(http.MethodPost)
	ecdsa.HandleFunc("/rotate/{id}/third", s.RotateThird).Methods(http.MethodPost)
	ecdsa.HandleFunc("/rotate/{id}/forth", s.RotateFourth).Methods(http.MethodPost)

	return r
}

func sessionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}
