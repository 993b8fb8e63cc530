package recurring

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the recurring invoice endpoints on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/numbering", h.ShowNumbering)
	r.Put("/numbering", h.UpdateNumbering)
	r.Post("/from-invoice/{invoiceID}", h.CreateFromInvoice)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.With(h.generateLimit).Post("/generate", h.Generate)
		r.Get("/invoices", h.Invoices)
		r.Get("/schedule", h.Schedule)
	})
}
