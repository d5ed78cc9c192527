// Package rest provides the HTTP REST debug/inspection mirror of the PEL
// daemon's manager-level gRPC surface: a chi router, JWT bearer-token
// middleware, and handlers for listing, fetching, creating, and erasing
// PELs, mainly for operator tooling that would rather curl a BMC than hold
// an open gRPC channel.
//
// Grounded on internal/server/rest/{router,handlers,middleware,store}.go:
// same chi + go-chi/chi/v5 middleware chain, same golang-jwt/jwt/v5 RS256
// bearer validation, same JSON-error-body convention.
package rest

import (
	"context"

	"github.com/openbmc/pel-logd/internal/manager"
	"github.com/openbmc/pel-logd/internal/repository"
)

// Manager is the subset of manager.Manager's methods used by the REST
// handlers that mutate state (create/erase go through the manager so its
// post-create/post-delete hooks and quiesce policy still run).
type Manager interface {
	Create(ctx context.Context, req manager.CreateRequest) error
	CreatePELWithFFDCFiles(ctx context.Context, req manager.CreateRequest) (pelID, obmcLogID uint32, err error)
	Erase(obmcLogID uint32) error
	HardwarePresent(inventoryPath string) bool
}

// Repository is the subset of repository.Repository's methods used by the
// REST handlers that only read state.
type Repository interface {
	List() []repository.Summary
	Get(obmcLogID uint32) (*repository.PELAttributes, bool)
	PELIDForOBMC(obmcLogID uint32) (uint32, bool)
	ObmcIDForPELID(pelID uint32) (uint32, bool)
	ReadPEL(obmcLogID uint32) ([]byte, error)
	GetPELJSON(obmcLogID uint32) (map[string]any, error)
}
