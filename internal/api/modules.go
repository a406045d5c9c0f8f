package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	// moduleField is the multipart field carrying the module binary.
	moduleField = "module"
)

var (
	errNoModulePart = errors.New("multipart field \"module\" is required")
	errTooLarge     = errors.New("module exceeds upload limit")
)

// startRequest is the JSON body for POST /start.
type startRequest struct {
	Module string `json:"module"`
}

// listModulesResponse wraps the module list response.
type listModulesResponse struct {
	Modules []*model.Module `json:"modules"`
}

// readModulePart returns the name and content of the first "module" part of
// a multipart upload. Uploads without a file name get "<uuid>.wasm".
func (s *Server) readModulePart(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	// Leave room for multipart framing around the binary itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+maxBodySize)

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("read multipart body: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, errNoModulePart
		}
		if err != nil {
			return "", nil, fmt.Errorf("read multipart part: %w", err)
		}
		if part.FormName() != moduleField {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if part.FileName() == "" || name == "." || name == "/" {
			name = uuid.New().String() + ".wasm"
		}

		data, err := io.ReadAll(io.LimitReader(part, s.maxUploadBytes+1))
		part.Close()
		if err != nil {
			return "", nil, fmt.Errorf("read module: %w", err)
		}
		if int64(len(data)) > s.maxUploadBytes {
			return "", nil, errTooLarge
		}
		return name, data, nil
	}
}

// insertUpload stores an uploaded module and reports failures on w. It
// returns the new module, or nil if a response was already written.
func (s *Server) insertUpload(w http.ResponseWriter, r *http.Request) *model.Module {
	name, data, err := s.readModulePart(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.Is(err, errTooLarge) || errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, status, err.Error())
		return nil
	}

	id, err := s.store.InsertModule(r.Context(), name, data)
	if errors.Is(err, store.ErrAlreadyExists) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("module %q already exists", name))
		return nil
	}
	if err != nil {
		s.logger.Error("insert module", "module", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store module")
		return nil
	}

	m, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		s.logger.Error("get inserted module", "module", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve module")
		return nil
	}

	s.logger.Info("module deployed", "module", name, "id", id, "size", len(data))
	return m
}

// handleDeploy accepts a multipart upload and answers with the stored name.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	m := s.insertUpload(w, r)
	if m == nil {
		return
	}
	s.writeText(w, http.StatusOK, m.Name)
}

// handleStart marks the module named in the JSON body as Started.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Module == "" {
		s.writeError(w, http.StatusBadRequest, "module is required")
		return
	}

	if !s.setModuleState(w, r, req.Module, model.StateStarted) {
		return
	}
	s.writeText(w, http.StatusOK, req.Module)
}

func (s *Server) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	m := s.insertUpload(w, r)
	if m == nil {
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	var state model.ModuleState
	if v := r.URL.Query().Get("state"); v != "" {
		parsed, err := model.ParseModuleState(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		state = parsed
	}

	modules, err := s.store.ListModules(r.Context(), state)
	if err != nil {
		s.logger.Error("list modules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list modules")
		return
	}

	s.writeJSON(w, http.StatusOK, listModulesResponse{Modules: modules})
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	m, err := s.store.GetModuleByName(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}
	if err != nil {
		s.logger.Error("get module", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get module")
		return
	}

	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.launcher.DeleteModule(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}
	if err != nil {
		s.logger.Error("delete module", "module", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete module")
		return
	}

	s.logger.Info("module deleted", "module", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetModuleState(state model.ModuleState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !s.setModuleState(w, r, name, state) {
			return
		}

		m, err := s.store.GetModuleByName(r.Context(), name)
		if err != nil {
			s.logger.Error("get module", "module", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to retrieve module")
			return
		}
		s.writeJSON(w, http.StatusOK, m)
	}
}

// setModuleState updates the state of name and writes an error response on
// failure. It reports whether the update succeeded.
func (s *Server) setModuleState(w http.ResponseWriter, r *http.Request, name string, state model.ModuleState) bool {
	err := s.store.SetModuleState(r.Context(), name, state)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "module not found")
		return false
	}
	if err != nil {
		s.logger.Error("set module state", "module", name, "state", state, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update module state")
		return false
	}

	s.logger.Info("module state changed", "module", name, "state", state)
	return true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeText writes a plain-text response.
func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
