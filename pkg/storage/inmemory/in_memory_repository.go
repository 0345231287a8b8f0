package inmemory

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

const (
	DefaultProcessCacheSize = 100
	DefaultProcessCacheTTL  = 10 * time.Minute
)

type VariableScope struct {
	ParentKey int64          `json:"parentKey"`
	Variables map[string]any `json:"variables"`
}

// State keeps the partition state in memory,
// please use NewState to create a new object of this type.
// All exported fields are part of the snapshot.
type State struct {
	ElementInstances          map[int64]runtime.ElementInstance          `json:"elementInstances"`
	Children                  map[int64][]int64                          `json:"children"`
	ProcessDefinitions        map[int64]runtime.ProcessDefinition        `json:"processDefinitions"`
	VariableScopes            map[int64]VariableScope                    `json:"variableScopes"`
	Jobs                      map[int64]runtime.Job                      `json:"jobs"`
	Incidents                 map[int64]runtime.Incident                 `json:"incidents"`
	EventTriggers             map[int64][]runtime.EventTrigger           `json:"eventTriggers"`
	MessageSubscriptions      map[int64]runtime.MessageSubscription      `json:"messageSubscriptions"`
	SignalSubscriptions       map[int64]runtime.SignalSubscription       `json:"signalSubscriptions"`
	Timers                    map[int64]runtime.Timer                    `json:"timers"`
	CompensationSubscriptions map[int64]runtime.CompensationSubscription `json:"compensationSubscriptions"`
	Position                  int64                                      `json:"position"`

	processCache *expirable.LRU[int64, *model.Process]
}

var _ storage.MutableState = &State{}

func NewState() *State {
	return NewStateWithCache(DefaultProcessCacheSize, DefaultProcessCacheTTL)
}

// NewStateWithCache creates an empty state whose compiled process models are
// cached in an LRU of the given size and ttl.
func NewStateWithCache(cacheSize int, cacheTTL time.Duration) *State {
	return &State{
		ElementInstances:          make(map[int64]runtime.ElementInstance),
		Children:                  make(map[int64][]int64),
		ProcessDefinitions:        make(map[int64]runtime.ProcessDefinition),
		VariableScopes:            make(map[int64]VariableScope),
		Jobs:                      make(map[int64]runtime.Job),
		Incidents:                 make(map[int64]runtime.Incident),
		EventTriggers:             make(map[int64][]runtime.EventTrigger),
		MessageSubscriptions:      make(map[int64]runtime.MessageSubscription),
		SignalSubscriptions:       make(map[int64]runtime.SignalSubscription),
		Timers:                    make(map[int64]runtime.Timer),
		CompensationSubscriptions: make(map[int64]runtime.CompensationSubscription),
		processCache:              expirable.NewLRU[int64, *model.Process](cacheSize, nil, cacheTTL),
	}
}

// Snapshot serialises the state. encoding/json sorts map keys so equal states
// produce equal bytes.
func (mem *State) Snapshot() ([]byte, error) {
	return json.Marshal(mem)
}

// Restore replaces the content of the state with a snapshot.
func (mem *State) Restore(data []byte) error {
	restored := NewState()
	if err := json.Unmarshal(data, restored); err != nil {
		return err
	}
	restored.processCache = mem.processCache
	restored.processCache.Purge()
	*mem = *restored
	return nil
}

func (mem *State) LastAppliedPosition() int64 {
	return mem.Position
}

func (mem *State) SetLastAppliedPosition(position int64) {
	mem.Position = position
}

func (mem *State) FindElementInstanceByKey(key int64) (runtime.ElementInstance, error) {
	instance, ok := mem.ElementInstances[key]
	if !ok {
		return instance, storage.ErrNotFound
	}
	return instance, nil
}

func (mem *State) FindChildElementInstances(parentKey int64) []runtime.ElementInstance {
	keys := mem.Children[parentKey]
	res := make([]runtime.ElementInstance, 0, len(keys))
	for _, key := range keys {
		res = append(res, mem.ElementInstances[key])
	}
	return res
}

func (mem *State) SaveElementInstance(instance runtime.ElementInstance) {
	if _, exists := mem.ElementInstances[instance.Key]; !exists && instance.Value.FlowScopeKey > 0 {
		children := mem.Children[instance.Value.FlowScopeKey]
		idx, _ := slices.BinarySearch(children, instance.Key)
		mem.Children[instance.Value.FlowScopeKey] = slices.Insert(children, idx, instance.Key)
	}
	mem.ElementInstances[instance.Key] = instance
}

func (mem *State) RemoveElementInstance(key int64) {
	instance, ok := mem.ElementInstances[key]
	if !ok {
		return
	}
	delete(mem.ElementInstances, key)
	delete(mem.Children, key)
	parentKey := instance.Value.FlowScopeKey
	if children, ok := mem.Children[parentKey]; ok {
		children = slices.DeleteFunc(children, func(k int64) bool { return k == key })
		if len(children) == 0 {
			delete(mem.Children, parentKey)
		} else {
			mem.Children[parentKey] = children
		}
	}
}

func (mem *State) FindLocalVariables(scopeKey int64) map[string]any {
	scope, ok := mem.VariableScopes[scopeKey]
	if !ok {
		return map[string]any{}
	}
	return maps.Clone(scope.Variables)
}

func (mem *State) FindVariableScope(scopeKey int64, name string) (int64, bool) {
	for key := scopeKey; key > 0; {
		scope, ok := mem.VariableScopes[key]
		if !ok {
			return 0, false
		}
		if _, ok := scope.Variables[name]; ok {
			return key, true
		}
		key = scope.ParentKey
	}
	return 0, false
}

func (mem *State) GetVariableHolder(scopeKey int64) *runtime.VariableHolder {
	chain := make([]int64, 0, 4)
	for key := scopeKey; key > 0; {
		scope, ok := mem.VariableScopes[key]
		if !ok {
			break
		}
		chain = append(chain, key)
		key = scope.ParentKey
	}
	var holder *runtime.VariableHolder
	for i := len(chain) - 1; i >= 0; i-- {
		holder = runtime.NewVariableHolder(holder, mem.FindLocalVariables(chain[i]))
	}
	if holder == nil {
		holder = runtime.NewVariableHolder(nil, nil)
	}
	return holder
}

func (mem *State) FindParentScopeKey(scopeKey int64) (int64, bool) {
	scope, ok := mem.VariableScopes[scopeKey]
	if !ok || scope.ParentKey <= 0 {
		return 0, false
	}
	return scope.ParentKey, true
}

func (mem *State) CreateScope(scopeKey int64, parentKey int64) {
	if _, ok := mem.VariableScopes[scopeKey]; ok {
		return
	}
	mem.VariableScopes[scopeKey] = VariableScope{ParentKey: parentKey, Variables: map[string]any{}}
}

func (mem *State) RemoveScope(scopeKey int64) {
	delete(mem.VariableScopes, scopeKey)
}

func (mem *State) SetVariable(scopeKey int64, name string, value any) {
	scope, ok := mem.VariableScopes[scopeKey]
	if !ok {
		scope = VariableScope{ParentKey: -1, Variables: map[string]any{}}
	}
	scope.Variables[name] = value
	mem.VariableScopes[scopeKey] = scope
}

func (mem *State) FindJobByKey(jobKey int64) (runtime.Job, error) {
	job, ok := mem.Jobs[jobKey]
	if !ok {
		return job, storage.ErrNotFound
	}
	return job, nil
}

func (mem *State) FindJobByElementInstanceKey(elementInstanceKey int64) (runtime.Job, error) {
	for _, job := range sortedValues(mem.Jobs) {
		if job.ElementInstanceKey == elementInstanceKey {
			return job, nil
		}
	}
	return runtime.Job{}, storage.ErrNotFound
}

func (mem *State) FindJobsByType(jobType string) []runtime.Job {
	return filterSorted(mem.Jobs, func(job runtime.Job) bool {
		return job.Type == jobType
	})
}

func (mem *State) SaveJob(job runtime.Job) {
	mem.Jobs[job.Key] = job
}

func (mem *State) DeleteJob(jobKey int64) {
	delete(mem.Jobs, jobKey)
}

func (mem *State) FindIncidentByKey(incidentKey int64) (runtime.Incident, error) {
	incident, ok := mem.Incidents[incidentKey]
	if !ok {
		return incident, storage.ErrNotFound
	}
	return incident, nil
}

func (mem *State) FindIncidentsByElementInstanceKey(elementInstanceKey int64) []runtime.Incident {
	return filterSorted(mem.Incidents, func(incident runtime.Incident) bool {
		return incident.ElementInstanceKey == elementInstanceKey
	})
}

func (mem *State) FindIncidentsByProcessInstanceKey(processInstanceKey int64) []runtime.Incident {
	return filterSorted(mem.Incidents, func(incident runtime.Incident) bool {
		return incident.ProcessInstanceKey == processInstanceKey
	})
}

func (mem *State) SaveIncident(incident runtime.Incident) {
	mem.Incidents[incident.Key] = incident
}

func (mem *State) DeleteIncident(incidentKey int64) {
	delete(mem.Incidents, incidentKey)
}

func (mem *State) FindEventTriggers(scopeKey int64) []runtime.EventTrigger {
	return slices.Clone(mem.EventTriggers[scopeKey])
}

func (mem *State) SaveEventTrigger(trigger runtime.EventTrigger) {
	mem.EventTriggers[trigger.ScopeKey] = append(mem.EventTriggers[trigger.ScopeKey], trigger)
}

func (mem *State) DeleteEventTrigger(scopeKey int64, eventKey int64) {
	triggers := slices.DeleteFunc(mem.EventTriggers[scopeKey], func(t runtime.EventTrigger) bool {
		return t.EventKey == eventKey
	})
	if len(triggers) == 0 {
		delete(mem.EventTriggers, scopeKey)
		return
	}
	mem.EventTriggers[scopeKey] = triggers
}

func (mem *State) DeleteEventTriggers(scopeKey int64) {
	delete(mem.EventTriggers, scopeKey)
}

func (mem *State) FindMessageSubscriptionByKey(key int64) (runtime.MessageSubscription, error) {
	subscription, ok := mem.MessageSubscriptions[key]
	if !ok {
		return subscription, storage.ErrNotFound
	}
	return subscription, nil
}

func (mem *State) FindMessageSubscriptionsByName(messageName string, correlationKey string) []runtime.MessageSubscription {
	return filterSorted(mem.MessageSubscriptions, func(s runtime.MessageSubscription) bool {
		return s.MessageName == messageName && s.CorrelationKey == correlationKey
	})
}

func (mem *State) FindMessageSubscriptionsByElementInstanceKey(elementInstanceKey int64) []runtime.MessageSubscription {
	return filterSorted(mem.MessageSubscriptions, func(s runtime.MessageSubscription) bool {
		return s.ElementInstanceKey == elementInstanceKey
	})
}

func (mem *State) SaveMessageSubscription(subscription runtime.MessageSubscription) {
	mem.MessageSubscriptions[subscription.Key] = subscription
}

func (mem *State) DeleteMessageSubscription(key int64) {
	delete(mem.MessageSubscriptions, key)
}

func (mem *State) FindSignalSubscriptionsByName(signalName string) []runtime.SignalSubscription {
	return filterSorted(mem.SignalSubscriptions, func(s runtime.SignalSubscription) bool {
		return s.SignalName == signalName
	})
}

func (mem *State) FindSignalSubscriptionsByElementInstanceKey(elementInstanceKey int64) []runtime.SignalSubscription {
	return filterSorted(mem.SignalSubscriptions, func(s runtime.SignalSubscription) bool {
		return s.ElementInstanceKey == elementInstanceKey
	})
}

func (mem *State) SaveSignalSubscription(subscription runtime.SignalSubscription) {
	mem.SignalSubscriptions[subscription.Key] = subscription
}

func (mem *State) DeleteSignalSubscription(key int64) {
	delete(mem.SignalSubscriptions, key)
}

func (mem *State) FindTimerByKey(timerKey int64) (runtime.Timer, error) {
	timer, ok := mem.Timers[timerKey]
	if !ok {
		return timer, storage.ErrNotFound
	}
	return timer, nil
}

func (mem *State) FindTimersByElementInstanceKey(elementInstanceKey int64) []runtime.Timer {
	return filterSorted(mem.Timers, func(t runtime.Timer) bool {
		return t.ElementInstanceKey == elementInstanceKey
	})
}

func (mem *State) FindTimersByProcessDefinitionKey(processDefinitionKey int64) []runtime.Timer {
	return filterSorted(mem.Timers, func(t runtime.Timer) bool {
		return t.ProcessDefinitionKey == processDefinitionKey && t.ElementInstanceKey <= 0
	})
}

func (mem *State) FindDueTimers(dueBefore int64) []runtime.Timer {
	timers := filterSorted(mem.Timers, func(t runtime.Timer) bool {
		return t.DueDate <= dueBefore
	})
	slices.SortStableFunc(timers, func(a, b runtime.Timer) int {
		return cmp.Compare(a.DueDate, b.DueDate)
	})
	return timers
}

func (mem *State) SaveTimer(timer runtime.Timer) {
	mem.Timers[timer.Key] = timer
}

func (mem *State) DeleteTimer(timerKey int64) {
	delete(mem.Timers, timerKey)
}

func (mem *State) FindCompensationSubscriptionByKey(key int64) (runtime.CompensationSubscription, error) {
	subscription, ok := mem.CompensationSubscriptions[key]
	if !ok {
		return subscription, storage.ErrNotFound
	}
	return subscription, nil
}

func (mem *State) FindCompensationSubscriptionsByFlowScopeKey(flowScopeKey int64) []runtime.CompensationSubscription {
	return filterSorted(mem.CompensationSubscriptions, func(s runtime.CompensationSubscription) bool {
		return s.FlowScopeKey == flowScopeKey
	})
}

func (mem *State) FindCompensationSubscriptionsByProcessInstanceKey(processInstanceKey int64) []runtime.CompensationSubscription {
	return filterSorted(mem.CompensationSubscriptions, func(s runtime.CompensationSubscription) bool {
		return s.ProcessInstanceKey == processInstanceKey
	})
}

func (mem *State) FindCompensationSubscriptionsByThrowEventInstanceKey(throwEventInstanceKey int64) []runtime.CompensationSubscription {
	return filterSorted(mem.CompensationSubscriptions, func(s runtime.CompensationSubscription) bool {
		return s.ThrowEventInstanceKey == throwEventInstanceKey
	})
}

func (mem *State) SaveCompensationSubscription(subscription runtime.CompensationSubscription) {
	mem.CompensationSubscriptions[subscription.Key] = subscription
}

func (mem *State) DeleteCompensationSubscription(key int64) {
	delete(mem.CompensationSubscriptions, key)
}

func sortedValues[V any](m map[int64]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	res := make([]V, 0, len(keys))
	for _, k := range keys {
		res = append(res, m[k])
	}
	return res
}

func filterSorted[V any](m map[int64]V, keep func(V) bool) []V {
	res := make([]V, 0)
	for _, v := range sortedValues(m) {
		if keep(v) {
			res = append(res, v)
		}
	}
	return res
}
