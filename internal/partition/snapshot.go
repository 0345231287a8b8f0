package partition

import (
	"encoding/json"

	"github.com/hashicorp/raft"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

type fsmSnapshot struct {
	State   json.RawMessage  `json:"state"`
	Pending []runtime.Record `json:"pending,omitempty"`
}

var _ raft.FSMSnapshot = &fsmSnapshot{}

func (f *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := sink.Write(b); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

func (f *fsmSnapshot) Release() {}
