package handlers

import (
	"net/http"

	"portraitstudio/internal/domain"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

type styleItem struct {
	ID   domain.StyleVariant `json:"id"`
	Name string              `json:"name"`
}

// Styles lists the renderable styles in batch order.
func (a *App) Styles(w http.ResponseWriter, r *http.Request) {
	styles := a.Catalog.Styles()
	items := make([]styleItem, 0, len(styles))
	for _, s := range styles {
		items = append(items, styleItem{ID: s, Name: domain.DisplayName(s)})
	}
	a.json(w, http.StatusOK, map[string]any{"styles": items})
}
