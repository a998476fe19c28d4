package handlers

import "net/http"

type modelResponse struct {
	Model         string   `json:"model"`
	Label         string   `json:"label"`
	Configured    bool     `json:"configured"`
	AcceptsImage  bool     `json:"accepts_image"`
	ArchiveSuffix string   `json:"archive_suffix"`
	Fields        []string `json:"fields"`
}

func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	items := make([]modelResponse, 0)
	if a.Catalog != nil {
		for _, v := range a.Catalog.List() {
			items = append(items, modelResponse{
				Model:         string(v.Type),
				Label:         v.Label,
				Configured:    v.Configured(),
				AcceptsImage:  v.AcceptsImage,
				ArchiveSuffix: v.ArchiveSuffix,
				Fields:        v.Fields,
			})
		}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
