package http

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"

	"github.com/flurbudurbur/Gramsight/internal/imagecache"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/go-chi/chi/v5"
)

func (h analyticsHandler) imageCacheStatus(w http.ResponseWriter, r *http.Request) {
	h.encoder.StatusResponse(r.Context(), w, h.images.Status(), http.StatusOK)
}

// profilePic serves the cached picture, or a placeholder when none is
// stored. It never triggers a fetch.
func (h analyticsHandler) profilePic(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	data, contentType, err := h.images.GetCachedImage(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, imagecache.ErrNotCached) {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("could not read cached profile picture")
		}

		// not cached yet, keep clients from holding on to the placeholder
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(placeholderSVG(userID))
		return
	}

	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h analyticsHandler) hasCachedPic(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ok, err := h.images.HasCachedImage(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("could not check cached profile picture")
		h.encoder.StatusInternalError(w)
		return
	}

	h.encoder.StatusResponse(r.Context(), w, map[string]bool{"has_cached_pic": ok}, http.StatusOK)
}

// placeholderSVG draws a silhouette on a background whose hue is derived
// from the user id, so the same id always gets the same image.
func placeholderSVG(userID string) []byte {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(userID))
	hue := hash.Sum32() % 360

	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="150" height="150" viewBox="0 0 150 150">`+
		`<rect width="150" height="150" fill="hsl(%d,45%%,70%%)"/>`+
		`<circle cx="75" cy="58" r="28" fill="#ffffff" fill-opacity="0.85"/>`+
		`<path d="M25 140c0-28 22-46 50-46s50 18 50 46z" fill="#ffffff" fill-opacity="0.85"/>`+
		`</svg>`, hue))
}
