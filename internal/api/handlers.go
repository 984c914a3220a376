package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/aggregate"
	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/feed"
	"leadflow/internal/intake"
	"leadflow/internal/models"
)

type createResponse struct {
	ID        string        `json:"id"`
	Status    models.Status `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type listResponse struct {
	Records []feed.LeadView  `json:"records"`
	Counts  aggregate.Counts `json:"counts"`
	At      time.Time        `json:"at"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewBadRequestError("request body is empty")
		}
		return apperrors.NewBadRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var raw intake.RawSubmission
	if err := decodeBody(w, r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	lead, err := s.deps.Intake.Submit(r.Context(), intake.SourceAPI, raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		ID:        lead.ID,
		Status:    lead.Status,
		CreatedAt: lead.CreatedAt,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	leads, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records := make([]feed.LeadView, len(leads))
	for i, l := range leads {
		records[i] = feed.NewLeadView(l, s.deps.Location)
	}
	writeJSON(w, http.StatusOK, listResponse{
		Records: records,
		Counts:  aggregate.CountsByStatus(leads),
		At:      time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	leads, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.CountsByStatus(leads))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Unknown values go through so the workflow rejects them as illegal.
	requested := models.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	res, err := s.deps.Gateway.SetStatus(r.Context(), r.PathValue("id"), requested)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		s.writeError(w, r, apperrors.NewBadRequestError("deleting an application requires confirm=true"))
		return
	}

	if _, err := s.deps.Gateway.DeleteRecord(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, r, apperrors.NewBadRequestError("query parameter q is required"))
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	size = min(size, maxSearchSize)

	leads, err := s.deps.Search.Search(r.Context(), q, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records := make([]feed.LeadView, len(leads))
	for i, l := range leads {
		records[i] = feed.NewLeadView(l, s.deps.Location)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   q,
		"records": records,
	})
}
