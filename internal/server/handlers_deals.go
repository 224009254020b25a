package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dealfiles/internal/api"
	"dealfiles/internal/models"
	"dealfiles/internal/store"
)

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	if s.deals == nil {
		s.writeServiceError(w, r, internalError(fmt.Errorf("deal registry is not configured")))
		return
	}

	var req api.DealCreateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	dealID, err := models.ParseDealID(req.DealID)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidDealID))
		return
	}

	deal := &models.Deal{ID: dealID, Name: strings.TrimSpace(req.Name)}
	if err := s.deals.CreateDeal(r.Context(), deal); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.writeServiceError(w, r, conflictCode(fmt.Errorf("deal %s already exists", dealID), ErrCodeDealExists))
			return
		}
		s.writeServiceError(w, r, storeFailure(err))
		return
	}
	s.writeData(w, http.StatusCreated, toAPIDeal(*deal))
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	if s.deals == nil {
		s.writeServiceError(w, r, internalError(fmt.Errorf("deal registry is not configured")))
		return
	}

	deals, err := s.deals.ListDeals(r.Context())
	if err != nil {
		s.writeServiceError(w, r, storeFailure(err))
		return
	}
	out := make([]api.Deal, 0, len(deals))
	for _, deal := range deals {
		out = append(out, toAPIDeal(deal))
	}
	s.writeData(w, http.StatusOK, out)
}
