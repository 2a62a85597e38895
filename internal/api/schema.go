/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"errors"
	"net/http"

	"pgedge-nlq/internal/schema"
)

// SchemaHandler exposes the cached schema snapshot
type SchemaHandler struct {
	cache *schema.Cache
}

// NewSchemaHandler creates a schema handler
func NewSchemaHandler(cache *schema.Cache) *SchemaHandler {
	return &SchemaHandler{cache: cache}
}

// HandleSchema handles GET /api/schema. Passing ?refresh=true forces a
// wholesale snapshot refresh before answering.
func (h *SchemaHandler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	force := r.URL.Query().Get("refresh") == "true"

	snap, err := h.cache.Get(r.Context(), force)
	if err != nil {
		if errors.Is(err, schema.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
