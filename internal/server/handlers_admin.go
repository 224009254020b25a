package server

import (
	"net/http"
)

func (s *Server) handleSweepBlobs(w http.ResponseWriter, r *http.Request) {
	apply, err := queryBool(r, "apply")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	olderThan, err := queryDuration(r, "olderThan", s.orphanGrace)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := s.attachments.SweepOrphanBlobs(r.Context(), olderThan, apply)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, toAPISweep(result))
}
