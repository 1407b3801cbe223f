package api

import (
	"net/http"
)

// HandleDocumentWebSocket hands a document socket to the collaboration
// handler, which owns the upgrade and the auth close codes.
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleDocumentConnection(w, r)
}
