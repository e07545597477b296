package app

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/avishka-hashara/crosstalk/internal/auth"
	"github.com/avishka-hashara/crosstalk/internal/transport"
)

// handleStream authenticates the request, upgrades it to a websocket and
// hands the connection to the session manager for the life of the call.
//
// Authentication happens before the upgrade so a rejected caller gets a
// plain 403 instead of a websocket close frame.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	profile, err := transport.ProfileByName(r.PathValue("profile"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	userID, err := a.decoder.Decode(auth.BearerToken(r))
	if err != nil {
		a.logger.Warn("stream refused", "profile", profile.Name, "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid or missing token", http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The bearer token is the access control here; telephony gateways
		// send no Origin and browser peers connect from arbitrary pages.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "profile", profile.Name, "error", err)
		return
	}
	defer c.CloseNow()

	if err := a.sessions.Serve(r.Context(), transport.NewAdapter(c), userID, profile); err != nil {
		// The session logs its own teardown; this is the handler boundary.
		a.logger.Debug("stream closed", "profile", profile.Name, "user_id", userID, "error", err)
	}
}
