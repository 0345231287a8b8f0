package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenexec/internal/config"
	"github.com/pbinitiative/zenexec/internal/log"
	"github.com/pbinitiative/zenexec/internal/partition"
	"github.com/pbinitiative/zenexec/internal/rest/apierror"
	"github.com/pbinitiative/zenexec/internal/rest/middleware"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LeaderHeader names the raft address of the leader when a follower refuses a command.
const LeaderHeader = "X-Partition-Leader"

// Engine is the part of the partition engine served over HTTP.
type Engine interface {
	DeployProcess(ctx context.Context, resourceName string, resource []byte) (runtime.ProcessDefinition, error)
	GetProcessDefinitions() []runtime.ProcessDefinition
	CreateProcessInstance(ctx context.Context, bpmnProcessId string, variables map[string]any, options ...bpmn.CreateInstanceOption) (int64, error)
	CancelProcessInstance(ctx context.Context, processInstanceKey int64) error
	ActivateAdHocElements(ctx context.Context, adHocInstanceKey int64, elementIds []string, variables map[string]any) error
	GetElementInstance(key int64) (runtime.ElementInstance, error)
	GetChildElementInstances(key int64) []runtime.ElementInstance
	GetIncidents(processInstanceKey int64) []runtime.Incident
	GetVariables(scopeKey int64) map[string]any
	FindActivatableJobs(jobType string) []bpmn.ActivatedJob
	CompleteJob(ctx context.Context, jobKey int64, variables map[string]any) error
	FailJob(ctx context.Context, jobKey int64, retries int32, errorMessage string) error
	ThrowJobError(ctx context.Context, jobKey int64, errorCode string, errorMessage string, variables map[string]any) error
	UpdateJobRetries(ctx context.Context, jobKey int64, retries int32) error
	PublishMessage(ctx context.Context, messageName string, correlationKey string, variables map[string]any) (int, error)
	BroadcastSignal(ctx context.Context, signalName string, variables map[string]any) (int, error)
	TriggerTimer(ctx context.Context, timerKey int64) error
	ResolveIncident(ctx context.Context, incidentKey int64) error
}

// Node tells the server whether this node may process commands.
type Node interface {
	IsLeader() bool
	LeaderWithID() (string, string)
	Status() partition.Status
}

type Server struct {
	engine Engine
	node   Node
	addr   string
	server *http.Server
}

func NewServer(engine Engine, node Node, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		node:   node,
		addr:   conf.HttpServer.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.HttpServer.Addr,
		},
	}
	r.Use(middleware.Cors(conf.HttpServer))
	r.Use(middleware.Opentelemetry(conf))
	r.Route(strings.TrimSuffix(conf.HttpServer.Context, "/")+"/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.leaderOnly)
			r.Post("/process-definitions", s.DeployProcessDefinition)
			r.Post("/process-instances", s.CreateProcessInstance)
			r.Delete("/process-instances/{key}", s.CancelProcessInstance)
			r.Post("/element-instances/{key}/ad-hoc-activation", s.ActivateAdHocElements)
			r.Post("/jobs/{key}/complete", s.CompleteJob)
			r.Post("/jobs/{key}/fail", s.FailJob)
			r.Post("/jobs/{key}/throw-error", s.ThrowJobError)
			r.Put("/jobs/{key}/retries", s.UpdateJobRetries)
			r.Post("/messages", s.PublishMessage)
			r.Post("/signals", s.BroadcastSignal)
			r.Post("/timers/{key}/trigger", s.TriggerTimer)
			r.Post("/incidents/{key}/resolve", s.ResolveIncident)
		})
		r.Get("/process-definitions", s.GetProcessDefinitions)
		r.Get("/process-instances/{key}/incidents", s.GetIncidents)
		r.Get("/element-instances/{key}", s.GetElementInstance)
		r.Get("/element-instances/{key}/children", s.GetChildElementInstances)
		r.Get("/element-instances/{key}/variables", s.GetVariables)
		r.With(middleware.StripEmptyQueryParams()).Get("/jobs", s.GetActivatableJobs)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJson(w, r, http.StatusOK, node.Status())
		})
	})
	return &s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Info("ZenExec REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

// leaderOnly refuses commands on followers, they would fail to append their batch.
func (s *Server) leaderOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.node.IsLeader() {
			next.ServeHTTP(w, r)
			return
		}
		addr, id := s.node.LeaderWithID()
		if addr != "" {
			w.Header().Set(LeaderHeader, addr)
		}
		writeError(w, r, http.StatusServiceUnavailable, apierror.ApiError{
			Message: fmt.Sprintf("node is not the leader of the partition, leader is %q", id),
			Type:    apierror.TypeNotLeader,
		})
	})
}

// writeEngineError maps the errors returned by the engine to a response.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var engineErr *bpmn.EngineError
	switch {
	case errors.Is(err, bpmn.ErrPartitionHalted):
		writeError(w, r, http.StatusServiceUnavailable, apierror.ApiError{Message: err.Error(), Type: apierror.TypePartitionHalted})
	case errors.Is(err, partition.ErrNotLeader):
		writeError(w, r, http.StatusServiceUnavailable, apierror.ApiError{Message: err.Error(), Type: apierror.TypeNotLeader})
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, apierror.ApiError{Message: err.Error(), Type: apierror.TypeNotFound})
	case errors.As(err, &engineErr):
		writeError(w, r, http.StatusConflict, apierror.ApiError{Message: err.Error(), Type: apierror.TypeRejected})
	default:
		log.Errorf(r.Context(), "Request %s %s failed: %s", r.Method, r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, apierror.ApiError{Message: err.Error(), Type: apierror.TypeError})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	writeJson(w, r, status, resp)
}

func writeJson(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Errorf(r.Context(), "Server error: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{
			Message: fmt.Sprintf("failed to decode request body: %s", err),
			Type:    apierror.TypeBadRequest,
		})
		return false
	}
	return true
}

func keyParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.ApiError{
			Message: fmt.Sprintf("invalid key %q", chi.URLParam(r, "key")),
			Type:    apierror.TypeBadRequest,
		})
		return 0, false
	}
	return key, true
}
