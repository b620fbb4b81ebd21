package handler

import (
	"log/slog"

	"github.com/provenix/evidence-keeper/internal/api/storage"
	"github.com/provenix/evidence-keeper/internal/keeper/store"
	"github.com/provenix/evidence-keeper/shared/postgresql"
	"github.com/provenix/evidence-keeper/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
}

// EvidenceHandler handles evidence-related HTTP requests
type EvidenceHandler struct {
	logger       *slog.Logger
	jobs         *store.JobStore
	batches      *store.BatchStore
	listing      *storage.Storage
	rabbitClient *rabbitmq.Client
}

// NewEvidenceHandler creates a new EvidenceHandler instance
func NewEvidenceHandler(deps *Dependencies) *EvidenceHandler {
	db := deps.DBClient.GetDB()
	return &EvidenceHandler{
		logger:       deps.Logger,
		jobs:         store.NewJobStore(db, deps.Logger),
		batches:      store.NewBatchStore(db, deps.Logger),
		listing:      storage.NewStorage(deps.DBClient),
		rabbitClient: deps.RabbitClient,
	}
}
