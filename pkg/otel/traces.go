package otel

const (
	Prefix                        = "bpmn-"
	AttributeProcessInstanceKey   = Prefix + "instance-key"
	AttributeProcessId            = Prefix + "process-id"
	AttributeProcessDefinitionKey = Prefix + "definition-key"
	AttributeElementId            = Prefix + "element-id"
	AttributeElementKey           = Prefix + "element-key"
	AttributeElementType          = Prefix + "element-type"
	AttributeIntent               = Prefix + "intent"
	AttributeValueType            = Prefix + "value-type"
	AttributeRecordPosition       = Prefix + "record-position"
	AttributeRecordCount          = Prefix + "record-count"
	AttributeRequestId            = Prefix + "request-id"
	AttributeIncidentKey          = Prefix + "incident-key"
	AttributeJobKey               = Prefix + "job-key"

	SpanStatusToken = Prefix + "token-status"
)
