package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const statusOK = "ok"

// envelope wraps every one-shot reply. Status is "ok" or the error text;
// Response is null on failure.
type envelope struct {
	Status   string `json:"status"`
	Response any    `json:"response"`
}

func writeEnvelope(w http.ResponseWriter, code int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}

// reply answers with v, or with err and 502 when the upstream query failed.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.log.Warn("%s %s: %v", r.Method, r.URL.Path, err)
		writeEnvelope(w, http.StatusBadGateway, envelope{Status: err.Error()})
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{Status: statusOK, Response: v})
}

func (s *Server) handleMinecraftStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.minecraft.Status()
	if err != nil {
		s.reply(w, r, nil, err)
		return
	}
	s.reply(w, r, resp, nil)
}

func (s *Server) handleMinecraftPing(w http.ResponseWriter, r *http.Request) {
	payload, err := strconv.ParseInt(r.PathValue("payload"), 10, 64)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{Status: "invalid ping payload"})
		return
	}
	resp, err := s.minecraft.Ping(payload)
	if err != nil {
		s.reply(w, r, nil, err)
		return
	}
	s.reply(w, r, resp, nil)
}

func (s *Server) handleSpaceEngineersInfo(w http.ResponseWriter, r *http.Request) {
	if s.spaceEngineers == nil {
		http.NotFound(w, r)
		return
	}
	info, err := s.spaceEngineers.Info()
	if err != nil {
		s.reply(w, r, nil, err)
		return
	}
	s.reply(w, r, info, nil)
}
