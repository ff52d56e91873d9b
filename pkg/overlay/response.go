package overlay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type reloadMessage struct {
	Action   string  `json:"action"`
	JumpToID *string `json:"jump_to_id"`
}

// ReloadScript is the body of a reload response: it tells the parent frame
// to reload, scrolling to jumpToID when it is not empty.
func ReloadScript(jumpToID string) string {
	msg := reloadMessage{Action: "reload"}
	if jumpToID != "" {
		msg.JumpToID = &jumpToID
	}
	data, _ := json.Marshal(msg)
	return fmt.Sprintf("<script>window.parent.postMessage(%s, '*');</script>\n", data)
}

// ReloadResponse writes a reload response.
func ReloadResponse(w http.ResponseWriter, jumpToID string) {
	SameOrigin(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ReloadScript(jumpToID))
}

// SameOrigin restricts framing of the response to the embedding site.
func SameOrigin(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
}
