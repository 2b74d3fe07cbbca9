package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/actionrouter/compound"
	"github.com/mohitkumar/actionrouter/model"
)

type flowView struct {
	State model.FlowState      `json:"state"`
	Modal *model.ModalSnapshot `json:"modal,omitempty"`
}

func viewOf(f *compound.FlowMachine, state model.FlowState) flowView {
	v := flowView{State: state}
	if snap, ok := f.CurrentModal(); ok && !state.Terminal() {
		v.Modal = &snap
	}
	return v
}

func (s *Server) flow(w http.ResponseWriter, r *http.Request) (*compound.FlowMachine, bool) {
	id := mux.Vars(r)["id"]
	f, ok := s.sessions.Flow(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "flow "+id+" not found")
		return nil, false
	}
	return f, true
}

func respondFlow(w http.ResponseWriter, f *compound.FlowMachine, state model.FlowState, err error) {
	if err != nil {
		respondWithActionError(w, err, viewOf(f, state))
		return
	}
	respondOK(w, viewOf(f, state))
}

func (s *Server) HandleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req compound.StartRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid flow request")
		return
	}
	f, err := s.orchestrator.Start(r.Context(), req)
	if err != nil {
		respondWithActionError(w, err, nil)
		return
	}
	s.sessions.PutFlow(f)
	respondWithJSON(w, http.StatusCreated, viewOf(f, f.State()))
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.flow(w, r); ok {
		respondOK(w, viewOf(f, f.State()))
	}
}

func (s *Server) HandleCompleteStep(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}
	var req formRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid form")
		return
	}
	state, err := f.CompleteStep(r.Context(), req.Form)
	respondFlow(w, f, state, err)
}

func (s *Server) HandleConfirmStep(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.flow(w, r); ok {
		state, err := f.ConfirmStep(r.Context())
		respondFlow(w, f, state, err)
	}
}

func (s *Server) HandleSkipStep(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.flow(w, r); ok {
		state, err := f.SkipStep(r.Context())
		respondFlow(w, f, state, err)
	}
}

func (s *Server) HandleAbortFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid abort request")
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted by user"
	}
	state, err := f.Abort(req.Reason)
	respondFlow(w, f, state, err)
}
