package apierror

// ApiError is the body of every failed request.
type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	TypeBadRequest      = "BAD_REQUEST"
	TypeNotFound        = "NOT_FOUND"
	TypeRejected        = "REJECTED"
	TypeNotLeader       = "NOT_LEADER"
	TypePartitionHalted = "PARTITION_HALTED"
	TypeError           = "ERROR"
)
