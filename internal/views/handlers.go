package views

import (
	"net/http"

	redis "github.com/redis/go-redis/v9"

	"github.com/tayster/payme-api/internal/common"
)

const counterKey = "page_views"

// Handler tracks and reports the site page-view counter.
type Handler struct {
	R *redis.Client
}

// Get reports the current view count without incrementing it.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "view counter not configured", nil)
		return
	}
	count, err := h.R.Get(r.Context(), counterKey).Int64()
	if err != nil && err != redis.Nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "view counter unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]int64{"views": count})
}

// Hit increments the view count and reports the new value.
func (h Handler) Hit(w http.ResponseWriter, r *http.Request) {
	if h.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "view counter not configured", nil)
		return
	}
	count, err := h.R.Incr(r.Context(), counterKey).Result()
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "view counter unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]int64{"views": count})
}
