package handlers

import (
	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage"
)

type Handlers struct {
	Ingest *IngestHandler
	Status *StatusHandler
	Search *SearchHandler
}

func NewHandlers(
	publisher broker.Publisher,
	store storage.Storage,
	reader ledger.Reader,
	searcher Searcher,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Ingest: NewIngestHandler(publisher, store, log),
		Status: NewStatusHandler(reader, log),
		Search: NewSearchHandler(searcher, log),
	}
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
