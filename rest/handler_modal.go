package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
)

type formRequest struct {
	Form map[string]any `json:"form"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) modal(w http.ResponseWriter, r *http.Request) (*modal.Session, bool) {
	id := mux.Vars(r)["id"]
	m, ok := s.sessions.Modal(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "modal "+id+" not found")
		return nil, false
	}
	return m, true
}

func respondModal(w http.ResponseWriter, snap model.ModalSnapshot, err error) {
	if err != nil {
		respondWithActionError(w, err, snap)
		return
	}
	respondOK(w, snap)
}

func (s *Server) HandleOpenModal(w http.ResponseWriter, r *http.Request) {
	var req modal.OpenRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid open request")
		return
	}
	m, err := s.resolver.Open(r.Context(), req)
	snap := m.Snapshot()
	if err != nil {
		respondWithActionError(w, err, snap)
		return
	}
	s.sessions.PutModal(m)
	respondWithJSON(w, http.StatusCreated, snap)
}

func (s *Server) HandleGetModal(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.modal(w, r); ok {
		respondOK(w, m.Snapshot())
	}
}

func (s *Server) HandleUpdateForm(w http.ResponseWriter, r *http.Request) {
	m, ok := s.modal(w, r)
	if !ok {
		return
	}
	var req formRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid form")
		return
	}
	snap, err := m.UpdateForm(req.Form)
	respondModal(w, snap, err)
}

func (s *Server) HandleSubmitModal(w http.ResponseWriter, r *http.Request) {
	m, ok := s.modal(w, r)
	if !ok {
		return
	}
	var req formRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid form")
		return
	}
	snap, err := m.Submit(r.Context(), req.Form)
	respondModal(w, snap, err)
}

func (s *Server) HandlePressButton(w http.ResponseWriter, r *http.Request) {
	m, ok := s.modal(w, r)
	if !ok {
		return
	}
	var req formRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid form")
		return
	}
	role := model.ButtonRole(mux.Vars(r)["role"])
	snap, err := m.PressButton(r.Context(), role, req.Form)
	respondModal(w, snap, err)
}

func (s *Server) HandleConfirmModal(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.modal(w, r); ok {
		snap, err := m.Confirm(r.Context())
		respondModal(w, snap, err)
	}
}

func (s *Server) HandleCancelModal(w http.ResponseWriter, r *http.Request) {
	m, ok := s.modal(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid cancel request")
		return
	}
	if req.Reason == "" {
		req.Reason = "dismissed"
	}
	snap, err := m.Cancel(req.Reason)
	respondModal(w, snap, err)
}
