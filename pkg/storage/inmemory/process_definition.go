package inmemory

import (
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

func (mem *State) FindProcessDefinitionByKey(processDefinitionKey int64) (runtime.ProcessDefinition, error) {
	res, ok := mem.ProcessDefinitions[processDefinitionKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *State) FindLatestProcessDefinitionById(bpmnProcessId string) (runtime.ProcessDefinition, error) {
	var res runtime.ProcessDefinition
	found := false
	for _, def := range sortedValues(mem.ProcessDefinitions) {
		if def.BpmnProcessId != bpmnProcessId {
			continue
		}
		if found && def.Version < res.Version {
			continue
		}
		found = true
		res = def
	}
	if !found {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *State) FindProcessDefinitions() []runtime.ProcessDefinition {
	latest := map[string]runtime.ProcessDefinition{}
	order := make([]string, 0)
	for _, def := range sortedValues(mem.ProcessDefinitions) {
		current, ok := latest[def.BpmnProcessId]
		if !ok {
			order = append(order, def.BpmnProcessId)
		}
		if !ok || current.Version < def.Version {
			latest[def.BpmnProcessId] = def
		}
	}
	res := make([]runtime.ProcessDefinition, 0, len(order))
	for _, id := range order {
		res = append(res, latest[id])
	}
	return res
}

// GetProcess returns the compiled model of a deployed definition. Compiled
// models are kept in the LRU cache, a miss compiles the stored resource again.
func (mem *State) GetProcess(processDefinitionKey int64) (*model.Process, error) {
	if process, ok := mem.processCache.Get(processDefinitionKey); ok {
		return process, nil
	}
	def, err := mem.FindProcessDefinitionByKey(processDefinitionKey)
	if err != nil {
		return nil, err
	}
	process, err := model.ParseProcess(def.Resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile process definition %d: %w", processDefinitionKey, err)
	}
	mem.processCache.Add(processDefinitionKey, process)
	return process, nil
}

func (mem *State) SaveProcessDefinition(definition runtime.ProcessDefinition) {
	mem.ProcessDefinitions[definition.ProcessDefinitionKey] = definition
	mem.processCache.Remove(definition.ProcessDefinitionKey)
}
