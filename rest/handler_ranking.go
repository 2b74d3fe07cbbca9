package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"go.uber.org/zap"
)

type suggestionRequest struct {
	UserId string               `json:"userId"`
	Tier   model.PermissionTier `json:"tier"`
	Item   model.ContentItem    `json:"item"`
}

func (s *Server) HandleRankingQuery(w http.ResponseWriter, r *http.Request) {
	var req model.RankingRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid ranking request")
		return
	}
	res, err := s.ranking.Query(r.Context(), req)
	if err != nil {
		respondWithActionError(w, err, nil)
		return
	}
	respondOK(w, res)
}

func (s *Server) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid suggestion request")
		return
	}
	res, err := s.ranking.SuggestForItem(r.Context(), req.UserId, req.Tier, req.Item)
	if err != nil {
		respondWithActionError(w, err, nil)
		return
	}
	respondOK(w, res)
}

func (s *Server) HandleExecutionEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ev, err := s.eventEncDec.DecodeReader(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid execution event")
		return
	}
	if err := s.recorder.Record(r.Context(), *ev); err != nil {
		logger.Error("error recording execution event", zap.String("user", ev.UserId), zap.Error(err))
		respondWithActionError(w, err, nil)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	s.registryCache.Clear()
	respondOK(w, map[string]any{"cleared": true})
}

func (s *Server) HandleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["userId"]
	n := s.registryCache.Invalidate(userId)
	respondOK(w, map[string]any{"userId": userId, "invalidated": n})
}

func (s *Server) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.registryCache.Stats())
}
