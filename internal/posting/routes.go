package posting

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Post)
	r.Post("/preview", h.Preview)
}
