package extensions

type TTaskDefinition struct {
	TypeName string `yaml:"type" json:"type"`
	Retries  string `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// TEventDefinition holds the trigger configuration of a catch or throw event.
// Which fields are relevant depends on the event type.
type TEventDefinition struct {
	MessageName    string `yaml:"messageName,omitempty" json:"messageName,omitempty"`
	CorrelationKey string `yaml:"correlationKey,omitempty" json:"correlationKey,omitempty"`
	SignalName     string `yaml:"signalName,omitempty" json:"signalName,omitempty"`
	ErrorCode      string `yaml:"errorCode,omitempty" json:"errorCode,omitempty"`
	TimeDuration   string `yaml:"timeDuration,omitempty" json:"timeDuration,omitempty"`
	TimeCycle      string `yaml:"timeCycle,omitempty" json:"timeCycle,omitempty"`
	TimeDate       string `yaml:"timeDate,omitempty" json:"timeDate,omitempty"`
}
