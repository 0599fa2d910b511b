package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/pkg/pipeline"
	"github.com/conductor-ai/conductor/pkg/plan"
	"github.com/conductor-ai/conductor/pkg/store"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// executeRequest is the wire form of an execution request. Durations travel
// as milliseconds.
type executeRequest struct {
	Input            string                 `json:"input"`
	History          []string               `json:"history,omitempty"`
	AutoPlanning     *bool                  `json:"auto_planning,omitempty"`
	Steps            []plan.Step            `json:"steps,omitempty"`
	Dependencies     map[int][]int          `json:"dependencies,omitempty"`
	AllowUnsafeTools bool                   `json:"allow_unsafe_tools,omitempty"`
	MaxParallelism   int                    `json:"max_parallelism,omitempty"`
	TimeoutMs        int64                  `json:"timeout_ms,omitempty"`
	StepTimeoutMs    int64                  `json:"step_timeout_ms,omitempty"`
	ContinueOnError  bool                   `json:"continue_on_error,omitempty"`
	SessionID        string                 `json:"session_id,omitempty"`
	WorkingDirectory string                 `json:"working_directory,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// toPipelineRequest maps the wire form onto pipeline options. allowUnsafe is
// the server-wide default; a request can opt in but not out.
func (er executeRequest) toPipelineRequest(allowUnsafe bool) pipeline.Request {
	// Auto planning defaults on when the caller supplied no explicit steps.
	auto := er.Steps == nil
	if er.AutoPlanning != nil {
		auto = *er.AutoPlanning
	}

	return pipeline.Request{
		Input:   er.Input,
		History: er.History,
		Context: &tool.ExecutionContext{
			SessionID:        er.SessionID,
			WorkingDirectory: er.WorkingDirectory,
			Metadata:         er.Metadata,
		},
		Options: pipeline.Options{
			AutoPlanning:     auto,
			ProvidedSteps:    er.Steps,
			Dependencies:     er.Dependencies,
			AllowUnsafeTools: er.AllowUnsafeTools || allowUnsafe,
			MaxParallelism:   er.MaxParallelism,
			Timeout:          time.Duration(er.TimeoutMs) * time.Millisecond,
			StepTimeout:      time.Duration(er.StepTimeoutMs) * time.Millisecond,
			ContinueOnError:  er.ContinueOnError,
		},
	}
}

func decodeExecuteRequest(w http.ResponseWriter, r *http.Request) (*executeRequest, bool) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Input == "" && req.Steps == nil {
		writeError(w, http.StatusBadRequest, "either input or steps is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	result, err := s.cfg.Pipeline.Execute(r.Context(), req.toPipelineRequest(s.cfg.AllowUnsafe))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	id, err := s.cfg.Queue.Submit(r.Context(), req.toPipelineRequest(s.cfg.AllowUnsafe))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": id,
		"status":       string(store.StatusPending),
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	recs, err := s.cfg.Queue.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": recs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Queue.GetResult(r.Context(), r.PathValue("id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown execution id")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.cfg.Queue.Cancel(id) {
		writeError(w, http.StatusNotFound, "execution is unknown or already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"execution_id": id,
		"status":       string(store.StatusCancelled),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		Parameters  []tool.Parameter `json:"parameters"`
		Unsafe      bool             `json:"unsafe,omitempty"`
	}

	tools := []toolInfo{}
	for _, name := range s.cfg.Registry.List() {
		def, ok := s.cfg.Registry.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, toolInfo{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
			Unsafe:      def.Unsafe,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Router == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": map[string]string{}, "usage": []interface{}{}})
		return
	}

	breakers := map[string]string{}
	for name, state := range s.cfg.Router.BreakerStates() {
		breakers[name] = state.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": breakers,
		"usage":    s.cfg.Router.Usage(),
	})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch errors.KindOf(err) {
	case errors.KindPlanning:
		return http.StatusUnprocessableEntity
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindToolNotFound:
		return http.StatusNotFound
	case errors.KindPolicy:
		return http.StatusForbidden
	case errors.KindModelsUnavailable, errors.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
