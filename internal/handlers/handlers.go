package handlers

import (
	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/export"
	"asset-atlas/internal/orchestrator"
	"asset-atlas/internal/thumbs"
)

type Handlers struct {
	db       *database.Database
	orch     *orchestrator.Orchestrator
	resolver *deps.Resolver
	thumbs   *thumbs.Generator
	exporter *export.Exporter
}

func New(db *database.Database, orch *orchestrator.Orchestrator, resolver *deps.Resolver, gen *thumbs.Generator) *Handlers {
	return &Handlers{
		db:       db,
		orch:     orch,
		resolver: resolver,
		thumbs:   gen,
		exporter: export.New(db, resolver),
	}
}
