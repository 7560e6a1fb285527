package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"portraitstudio/internal/batch"
	"portraitstudio/internal/domain"
	"portraitstudio/internal/media"
)

const multipartOverhead = 1 << 20

type generateResponse struct {
	SessionID string                    `json:"sessionId"`
	Images    []domain.GenerationResult `json:"images"`
}

// Generate accepts a multipart photo and renders it in one style ("style" or
// "theme" field) or, when none is given, in every style.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.MaxUploadBytes+multipartOverhead {
		a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "image exceeds the upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "image exceeds the upload limit")
			return
		}
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "expected a multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "image file is required")
		return
	}
	defer file.Close()
	if header.Size > a.MaxUploadBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "image exceeds the upload limit")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, a.MaxUploadBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "could not read image")
		return
	}
	if int64(len(data)) > a.MaxUploadBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "image exceeds the upload limit")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		if _, heic := media.DetectHEIC(data); !heic {
			a.error(w, http.StatusBadRequest, string(domain.KindUnsupportedFormat), "only image uploads are accepted")
			return
		}
		mimeType = "image/heic"
	}

	styles, err := requestedStyles(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	log := a.log(r)
	// The batch keeps running when the client goes away; artifacts stay addressable.
	ctx := context.WithoutCancel(r.Context())
	session, err := a.Batch.Generate(ctx, batch.Request{
		Image:  domain.ImageBuffer{Data: data, MIMEType: mimeType, Filename: header.Filename},
		Styles: styles,
		OnProgress: func(p batch.Progress) {
			log.Debug().Int("index", p.Index).Int("total", p.Total).Str("style", string(p.Style)).Msg("generate: progress")
		},
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, generateResponse{SessionID: session.ID, Images: session.Results})
}

func requestedStyles(r *http.Request) ([]domain.StyleVariant, error) {
	raw := strings.TrimSpace(r.FormValue("style"))
	if raw == "" {
		raw = strings.TrimSpace(r.FormValue("theme"))
	}
	if raw == "" || strings.EqualFold(raw, "all") {
		return append([]domain.StyleVariant(nil), domain.DefaultStyles...), nil
	}
	style, ok := domain.ParseStyle(raw)
	if !ok {
		return nil, domain.Errorf(domain.KindInvalidRequest, "unknown style %q", raw)
	}
	return []domain.StyleVariant{style}, nil
}

// Images lists the artifacts of a batch session. A single artifact id is also
// accepted and resolved to its deterministic URL.
func (a *App) Images(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if id == "" {
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "session id is required")
		return
	}
	stored, err := a.Sessions.ListSession(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(stored) > 0 {
		images := make([]domain.GenerationResult, 0, len(stored))
		for _, m := range stored {
			images = append(images, domain.GenerationResult{ArtifactID: m.ArtifactID, Style: m.Style, URL: m.URL})
		}
		a.json(w, http.StatusOK, generateResponse{SessionID: id, Images: images})
		return
	}

	sessionID, style, ok := domain.ParseArtifactID(id)
	if !ok {
		a.fail(w, r, domain.Errorf(domain.KindSessionNotFound, "session %s", id))
		return
	}
	url, err := a.URLs.URLFor(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, generateResponse{
		SessionID: sessionID,
		Images:    []domain.GenerationResult{{ArtifactID: id, Style: style, URL: url}},
	})
}
