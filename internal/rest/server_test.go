package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pbinitiative/zenexec/internal/config"
	"github.com/pbinitiative/zenexec/internal/partition"
	"github.com/pbinitiative/zenexec/internal/rest/apierror"
	"github.com/pbinitiative/zenexec/internal/rest/middleware"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/ptr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	leader bool
}

func (n *testNode) IsLeader() bool {
	return n.leader
}

func (n *testNode) LeaderWithID() (string, string) {
	if n.leader {
		return "127.0.0.1:8090", "node-1"
	}
	return "10.0.0.2:8090", "node-2"
}

func (n *testNode) Status() partition.Status {
	addr, id := n.LeaderWithID()
	return partition.Status{NodeId: "node-1", Leader: n.leader, LeaderId: id, LeaderAddr: addr}
}

type testServer struct {
	*httptest.Server
	engine *bpmn.Engine
	node   *testNode
}

func newTestServer(t *testing.T) *testServer {
	engine, err := bpmn.NewEngine()
	require.NoError(t, err)
	node := &testNode{leader: true}
	conf := config.Config{
		HttpServer: config.HttpServer{Context: "/", Addr: ":0"},
		Tracing:    config.Tracing{Name: "zenexec-test"},
	}
	server := httptest.NewServer(NewServer(engine, node, conf).Handler())
	t.Cleanup(server.Close)
	return &testServer{Server: server, engine: engine, node: node}
}

func (s *testServer) do(t *testing.T, method string, path string, body any, headers ...string) *http.Response {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.URL+path, reader)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var res T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func (s *testServer) deploy(t *testing.T, fileName string) runtime.ProcessDefinition {
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/" + fileName)
	require.NoError(t, err)
	resp := s.do(t, http.MethodPost, "/v1/process-definitions?resourceName="+fileName, data)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[runtime.ProcessDefinition](t, resp)
}

func TestProcessInstanceRunsThroughTheApi(t *testing.T) {
	// given
	s := newTestServer(t)
	definition := s.deploy(t, "simple_task.yaml")
	assert.Equal(t, "Simple_Task_Process", definition.BpmnProcessId)
	assert.Equal(t, "simple_task.yaml", definition.ResourceName)

	resp := s.do(t, http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{
		BpmnProcessId: "Simple_Task_Process",
		Variables:     map[string]any{"orderId": "o-1"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instanceKey := decode[CreateProcessInstanceResponse](t, resp).ProcessInstanceKey

	resp = s.do(t, http.MethodGet, "/v1/jobs?type=worker", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[[]bpmn.ActivatedJob](t, resp)
	require.Len(t, jobs, 1)
	assert.Equal(t, instanceKey, jobs[0].ProcessInstanceKey)
	assert.Equal(t, "o-1", jobs[0].Variables["orderId"])

	// when
	resp = s.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/complete", jobs[0].Key), CompleteJobRequest{
		Variables: map[string]any{"shipped": true},
	})

	// then
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodGet, fmt.Sprintf("/v1/element-instances/%d", instanceKey), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apierror.TypeNotFound, decode[apierror.ApiError](t, resp).Type)
}

func TestElementInstanceAndVariablesAreReadable(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "simple_task.yaml")
	resp := s.do(t, http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{
		BpmnProcessId: "Simple_Task_Process",
		Variables:     map[string]any{"orderId": "o-2"},
	})
	instanceKey := decode[CreateProcessInstanceResponse](t, resp).ProcessInstanceKey

	// when
	instanceResp := s.do(t, http.MethodGet, fmt.Sprintf("/v1/element-instances/%d", instanceKey), nil)
	childrenResp := s.do(t, http.MethodGet, fmt.Sprintf("/v1/element-instances/%d/children", instanceKey), nil)
	variablesResp := s.do(t, http.MethodGet, fmt.Sprintf("/v1/element-instances/%d/variables", instanceKey), nil)
	incidentsResp := s.do(t, http.MethodGet, fmt.Sprintf("/v1/process-instances/%d/incidents", instanceKey), nil)

	// then
	require.Equal(t, http.StatusOK, instanceResp.StatusCode)
	instance := decode[runtime.ElementInstance](t, instanceResp)
	assert.Equal(t, instanceKey, instance.Key)
	assert.Equal(t, runtime.IntentElementActivated, instance.State)
	children := decode[[]runtime.ElementInstance](t, childrenResp)
	require.Len(t, children, 1)
	assert.Equal(t, "id", children[0].Value.ElementId)
	assert.Equal(t, map[string]any{"orderId": "o-2"}, decode[map[string]any](t, variablesResp))
	assert.Empty(t, decode[[]runtime.Incident](t, incidentsResp))
}

func TestCreateInstanceWithSameRequestIdReturnsSameInstance(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "simple_task.yaml")
	request := CreateProcessInstanceRequest{BpmnProcessId: "Simple_Task_Process"}
	first := s.do(t, http.MethodPost, "/v1/process-instances", request, middleware.RequestIdHeader, "order-42")
	require.Equal(t, http.StatusCreated, first.StatusCode)

	// when
	second := s.do(t, http.MethodPost, "/v1/process-instances", request, middleware.RequestIdHeader, "order-42")

	// then
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "order-42", second.Header.Get(middleware.RequestIdHeader))
	assert.Equal(t,
		decode[CreateProcessInstanceResponse](t, first).ProcessInstanceKey,
		decode[CreateProcessInstanceResponse](t, second).ProcessInstanceKey)
	assert.Len(t, s.engine.FindActivatableJobs("worker"), 1)
}

func TestRequestIdIsGeneratedWhenMissing(t *testing.T) {
	// given
	s := newTestServer(t)

	// when
	resp := s.do(t, http.MethodGet, "/v1/process-definitions", nil)

	// then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIdHeader))
	assert.Empty(t, decode[[]runtime.ProcessDefinition](t, resp))
}

func TestCreateInstanceOfExactVersionAtStartElement(t *testing.T) {
	// given
	s := newTestServer(t)
	first := s.deploy(t, "simple_task.yaml")
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/simple_task_modified_taskId.yaml")
	require.NoError(t, err)
	resp := s.do(t, http.MethodPost, "/v1/process-definitions", data)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int32(2), decode[runtime.ProcessDefinition](t, resp).Version)

	// when
	resp = s.do(t, http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{
		BpmnProcessId:        "Simple_Task_Process",
		ProcessDefinitionKey: ptr.To(first.ProcessDefinitionKey),
		StartElementId:       ptr.To("start"),
	})

	// then
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	jobs := s.engine.FindActivatableJobs("worker")
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ProcessDefinitionKey, jobs[0].ProcessDefinitionKey)
}

func TestFollowerRefusesCommandsButServesReads(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "simple_task.yaml")
	s.node.leader = false

	// when
	resp := s.do(t, http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{BpmnProcessId: "Simple_Task_Process"})

	// then
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "10.0.0.2:8090", resp.Header.Get(LeaderHeader))
	assert.Equal(t, apierror.TypeNotLeader, decode[apierror.ApiError](t, resp).Type)
	resp = s.do(t, http.MethodGet, "/v1/process-definitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]runtime.ProcessDefinition](t, resp), 1)
}

func TestRejectedCommandsAreMappedToStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.deploy(t, "simple_task.yaml")

	tests := []struct {
		name      string
		method    string
		path      string
		body      any
		status    int
		errorType string
	}{
		{"unknown job", http.MethodPost, "/v1/jobs/12345/complete", CompleteJobRequest{}, http.StatusNotFound, apierror.TypeNotFound},
		{"invalid key", http.MethodPost, "/v1/jobs/abc/fail", FailJobRequest{}, http.StatusBadRequest, apierror.TypeBadRequest},
		{"unknown process", http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{BpmnProcessId: "missing"}, http.StatusNotFound, apierror.TypeNotFound},
		{"missing process id", http.MethodPost, "/v1/process-instances", CreateProcessInstanceRequest{}, http.StatusBadRequest, apierror.TypeBadRequest},
		{"invalid definition", http.MethodPost, "/v1/process-definitions", []byte("id: broken\nelements: [{id: a, type: UNKNOWN}]"), http.StatusConflict, apierror.TypeRejected},
		{"malformed body", http.MethodPost, "/v1/messages", []byte("{"), http.StatusBadRequest, apierror.TypeBadRequest},
		{"missing job type", http.MethodGet, "/v1/jobs?type=", nil, http.StatusBadRequest, apierror.TypeBadRequest},
		{"unknown ad-hoc instance", http.MethodPost, "/v1/element-instances/1/ad-hoc-activation", ActivateAdHocElementsRequest{ElementIds: []string{"a"}}, http.StatusConflict, apierror.TypeRejected},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// when
			resp := s.do(t, test.method, test.path, test.body)

			// then
			require.Equal(t, test.status, resp.StatusCode)
			apiErr := decode[apierror.ApiError](t, resp)
			assert.Equal(t, test.errorType, apiErr.Type)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestMessageWithoutSubscriberIsDropped(t *testing.T) {
	// given
	s := newTestServer(t)

	// when
	resp := s.do(t, http.MethodPost, "/v1/messages", PublishMessageRequest{Name: "payment-received", CorrelationKey: "o-1"})

	// then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[PublishMessageResponse](t, resp).Correlated)
}

func TestStatusEndpointReportsThePartition(t *testing.T) {
	// given
	s := newTestServer(t)

	// when
	resp := s.do(t, http.MethodGet, "/system/status", nil)

	// then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[partition.Status](t, resp)
	assert.True(t, status.Leader)
	assert.Equal(t, "node-1", status.LeaderId)
}
