package httpserver

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// handleNewRoom mints an unguessable room identifier. The id is random hex
// (one or more UUIDs with the dashes stripped), so it always clears the
// configured minimum length and carries no meaning for the relay to inspect.
func (s *Server) handleNewRoom(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for b.Len() < s.cfg.MinRoomIDLength || b.Len() == 0 {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	roomID := b.String()

	path := "/chat/" + roomID
	resp := map[string]any{
		"roomId": roomID,
		"path":   path,
	}
	if base := strings.TrimSuffix(s.cfg.PublicBaseURL, "/"); base != "" {
		resp["url"] = base + path
	}
	WriteJSON(w, http.StatusOK, resp)
}
