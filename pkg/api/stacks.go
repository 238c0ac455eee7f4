package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zalando-incubator/lizzy/pkg/senza"
)

type createStackRequest struct {
	SenzaYAML       string            `json:"senza_yaml"`
	StackVersion    string            `json:"stack_version"`
	Parameters      []string          `json:"parameters"`
	DisableRollback bool              `json:"disable_rollback"`
	DryRun          bool              `json:"dry_run"`
	Tags            map[string]string `json:"tags"`
}

type stackResponse struct {
	StackName string `json:"stack_name"`
	Version   string `json:"version"`
	Output    string `json:"output,omitempty"`
}

func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	var req createStackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem(w, http.StatusBadRequest, "Invalid request", "Request body is not valid JSON")
		return
	}
	if req.SenzaYAML == "" || req.StackVersion == "" {
		problem(w, http.StatusBadRequest, "Invalid request", "senza_yaml and stack_version are required")
		return
	}

	definition, err := senza.ParseDefinition(req.SenzaYAML)
	if err != nil {
		problem(w, http.StatusBadRequest, "Invalid senza definition", err.Error())
		return
	}

	output, err := s.deployer.Create(r.Context(), req.SenzaYAML, req.StackVersion,
		req.Parameters, req.DisableRollback, req.DryRun, req.Tags)
	if err != nil {
		s.deploymentError(w, r, "Failed to create stack", err)
		return
	}

	writeJSON(w, http.StatusCreated, stackResponse{
		StackName: definition.SenzaInfo.StackName,
		Version:   req.StackVersion,
		Output:    output,
	})
}

func (s *Server) handleListStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.deployer.List(r.Context())
	if err != nil {
		s.deploymentError(w, r, "Failed to list stacks", err)
		return
	}
	if stacks == nil {
		stacks = []any{}
	}
	writeJSON(w, http.StatusOK, stacks)
}

func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")
	stackVersion := chi.URLParam(r, "stackVersion")

	stacks, err := s.deployer.List(r.Context())
	if err != nil {
		s.deploymentError(w, r, "Failed to list stacks", err)
		return
	}

	for _, entry := range stacks {
		stack, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if stack["stack_name"] == stackName && stack["version"] == stackVersion {
			writeJSON(w, http.StatusOK, stack)
			return
		}
	}

	problem(w, http.StatusNotFound, "Stack not found", "Stack not found")
}

func (s *Server) handleDeleteStack(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")
	stackVersion := chi.URLParam(r, "stackVersion")

	if err := s.deployer.Remove(r.Context(), stackName, stackVersion); err != nil {
		s.deploymentError(w, r, "Failed to delete stack", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type patchStackRequest struct {
	NewTraffic  *int   `json:"new_traffic"`
	NewAMIImage string `json:"new_ami_image"`
}

func (s *Server) handlePatchStack(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")
	stackVersion := chi.URLParam(r, "stackVersion")

	var req patchStackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem(w, http.StatusBadRequest, "Invalid request", "Request body is not valid JSON")
		return
	}
	if req.NewTraffic == nil && req.NewAMIImage == "" {
		problem(w, http.StatusBadRequest, "Invalid request", "new_traffic or new_ami_image is required")
		return
	}
	if req.NewTraffic != nil && (*req.NewTraffic < 0 || *req.NewTraffic > 100) {
		problem(w, http.StatusBadRequest, "Invalid request", "new_traffic must be between 0 and 100")
		return
	}

	response := map[string]any{
		"stack_name": stackName,
		"version":    stackVersion,
	}

	if req.NewAMIImage != "" {
		if err := s.deployer.Patch(r.Context(), stackName, stackVersion, req.NewAMIImage); err != nil {
			s.deploymentError(w, r, "Failed to patch stack", err)
			return
		}
		if err := s.deployer.RespawnInstances(r.Context(), stackName, stackVersion); err != nil {
			s.deploymentError(w, r, "Failed to respawn instances", err)
			return
		}
	}

	if req.NewTraffic != nil {
		weights, err := s.deployer.Traffic(r.Context(), stackName, stackVersion, *req.NewTraffic)
		if err != nil {
			s.deploymentError(w, r, "Failed to change traffic", err)
			return
		}
		response["traffic"] = weights
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	stackName := r.URL.Query().Get("stack_name")

	domains, err := s.deployer.Domains(r.Context(), stackName)
	if err != nil {
		s.deploymentError(w, r, "Failed to list domains", err)
		return
	}

	writeJSON(w, http.StatusOK, domains)
}

type renderDefinitionRequest struct {
	SenzaYAML    string   `json:"senza_yaml"`
	StackVersion string   `json:"stack_version"`
	ImageVersion string   `json:"image_version"`
	Parameters   []string `json:"parameters"`
}

func (s *Server) handleRenderDefinition(w http.ResponseWriter, r *http.Request) {
	var req renderDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem(w, http.StatusBadRequest, "Invalid request", "Request body is not valid JSON")
		return
	}
	if req.SenzaYAML == "" || req.ImageVersion == "" {
		problem(w, http.StatusBadRequest, "Invalid request", "senza_yaml and image_version are required")
		return
	}

	if _, err := senza.ParseDefinition(req.SenzaYAML); err != nil {
		problem(w, http.StatusBadRequest, "Invalid senza definition", err.Error())
		return
	}

	rendered, err := s.deployer.RenderDefinition(r.Context(), req.SenzaYAML,
		req.StackVersion, req.ImageVersion, req.Parameters)
	if err != nil {
		s.deploymentError(w, r, "Failed to render definition", err)
		return
	}

	writeJSON(w, http.StatusOK, rendered)
}

// deploymentError reports a failed senza operation. The problem detail
// carries senza's exit code and trimmed output so callers can diagnose
// the failure without shell access to the Lizzy host.
func (s *Server) deploymentError(w http.ResponseWriter, r *http.Request, title string, err error) {
	requestID, _ := RequestIDFromContext(r.Context())
	s.logger.Error(title, "error", err, "request_id", requestID)
	problem(w, http.StatusInternalServerError, title, err.Error())
}
