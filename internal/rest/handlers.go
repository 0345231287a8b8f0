package rest

import (
	"io"
	"net/http"

	"github.com/pbinitiative/zenexec/internal/rest/apierror"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/ptr"
)

const defaultResourceName = "process.yaml"

type CreateProcessInstanceRequest struct {
	BpmnProcessId        string         `json:"bpmnProcessId"`
	ProcessDefinitionKey *int64         `json:"processDefinitionKey,omitempty"`
	StartElementId       *string        `json:"startElementId,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
}

type CreateProcessInstanceResponse struct {
	ProcessInstanceKey int64 `json:"processInstanceKey"`
}

type ActivateAdHocElementsRequest struct {
	ElementIds []string       `json:"elementIds"`
	Variables  map[string]any `json:"variables,omitempty"`
}

type CompleteJobRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
}

type FailJobRequest struct {
	Retries      int32  `json:"retries"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type ThrowJobErrorRequest struct {
	ErrorCode    string         `json:"errorCode"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

type UpdateJobRetriesRequest struct {
	Retries int32 `json:"retries"`
}

type PublishMessageRequest struct {
	Name           string         `json:"name"`
	CorrelationKey string         `json:"correlationKey"`
	Variables      map[string]any `json:"variables,omitempty"`
}

type PublishMessageResponse struct {
	Correlated int `json:"correlated"`
}

type BroadcastSignalRequest struct {
	Name      string         `json:"name"`
	Variables map[string]any `json:"variables,omitempty"`
}

type BroadcastSignalResponse struct {
	Triggered int `json:"triggered"`
}

// DeployProcessDefinition deploys the YAML definition sent as the request body.
// The resourceName query parameter names the resource.
func (s *Server) DeployProcessDefinition(w http.ResponseWriter, r *http.Request) {
	resource, err := io.ReadAll(r.Body)
	if err != nil || len(resource) == 0 {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{
			Message: "request body must contain the process definition",
			Type:    apierror.TypeBadRequest,
		})
		return
	}
	resourceName := r.URL.Query().Get("resourceName")
	if resourceName == "" {
		resourceName = defaultResourceName
	}
	definition, err := s.engine.DeployProcess(r.Context(), resourceName, resource)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusCreated, definition)
}

func (s *Server) GetProcessDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJson(w, r, http.StatusOK, s.engine.GetProcessDefinitions())
}

// CreateProcessInstance creates an instance of the latest version unless a
// processDefinitionKey is given. X-Request-Id makes the call idempotent.
func (s *Server) CreateProcessInstance(w http.ResponseWriter, r *http.Request) {
	var request CreateProcessInstanceRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.BpmnProcessId == "" {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{Message: "bpmnProcessId is required", Type: apierror.TypeBadRequest})
		return
	}
	options := make([]bpmn.CreateInstanceOption, 0, 2)
	if key := ptr.Deref(request.ProcessDefinitionKey, 0); key > 0 {
		options = append(options, bpmn.WithProcessDefinitionKey(key))
	}
	if elementId := ptr.Deref(request.StartElementId, ""); elementId != "" {
		options = append(options, bpmn.WithStartElement(elementId))
	}
	key, err := s.engine.CreateProcessInstance(r.Context(), request.BpmnProcessId, request.Variables, options...)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusCreated, CreateProcessInstanceResponse{ProcessInstanceKey: key})
}

func (s *Server) CancelProcessInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.CancelProcessInstance(r.Context(), key); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ActivateAdHocElements(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var request ActivateAdHocElementsRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if err := s.engine.ActivateAdHocElements(r.Context(), key, request.ElementIds, request.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetElementInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	instance, err := s.engine.GetElementInstance(key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, instance)
}

func (s *Server) GetChildElementInstances(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	writeJson(w, r, http.StatusOK, s.engine.GetChildElementInstances(key))
}

func (s *Server) GetVariables(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	variables := s.engine.GetVariables(key)
	if variables == nil {
		variables = map[string]any{}
	}
	writeJson(w, r, http.StatusOK, variables)
}

func (s *Server) GetIncidents(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	writeJson(w, r, http.StatusOK, s.engine.GetIncidents(key))
}

// GetActivatableJobs lists the jobs of the type given by the type query parameter.
func (s *Server) GetActivatableJobs(w http.ResponseWriter, r *http.Request) {
	jobType := r.URL.Query().Get("type")
	if jobType == "" {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{Message: "type query parameter is required", Type: apierror.TypeBadRequest})
		return
	}
	writeJson(w, r, http.StatusOK, s.engine.FindActivatableJobs(jobType))
}

func (s *Server) CompleteJob(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var request CompleteJobRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &request) {
		return
	}
	if err := s.engine.CompleteJob(r.Context(), key, request.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) FailJob(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var request FailJobRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if err := s.engine.FailJob(r.Context(), key, request.Retries, request.ErrorMessage); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ThrowJobError(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var request ThrowJobErrorRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if err := s.engine.ThrowJobError(r.Context(), key, request.ErrorCode, request.ErrorMessage, request.Variables); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UpdateJobRetries(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var request UpdateJobRetriesRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if err := s.engine.UpdateJobRetries(r.Context(), key, request.Retries); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PublishMessage(w http.ResponseWriter, r *http.Request) {
	var request PublishMessageRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.Name == "" {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{Message: "name is required", Type: apierror.TypeBadRequest})
		return
	}
	correlated, err := s.engine.PublishMessage(r.Context(), request.Name, request.CorrelationKey, request.Variables)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, PublishMessageResponse{Correlated: correlated})
}

func (s *Server) BroadcastSignal(w http.ResponseWriter, r *http.Request) {
	var request BroadcastSignalRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.Name == "" {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{Message: "name is required", Type: apierror.TypeBadRequest})
		return
	}
	triggered, err := s.engine.BroadcastSignal(r.Context(), request.Name, request.Variables)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, BroadcastSignalResponse{Triggered: triggered})
}

func (s *Server) TriggerTimer(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.TriggerTimer(r.Context(), key); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResolveIncident(r.Context(), key); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
