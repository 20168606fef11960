package squareoff

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler exposes the reconciler at POST /api/v1/squareoff.
// An optional user_id query parameter scopes the sweep to one user.
func Handler(r *Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID := req.URL.Query().Get("user_id")

		result, err := r.Run(req.Context(), userID)
		if err != nil {
			slog.Error("square-off sweep failed", "err", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "square-off sweep failed"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
