package domain

// SessionStatus is the lifecycle state of a client subscription.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusStreaming  SessionStatus = "streaming"
	StatusDone       SessionStatus = "done"
	StatusError      SessionStatus = "error"
)

// Terminal reports whether no further transitions happen without an explicit retry.
func (s SessionStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// SubscriptionState is the observable view of one subscription.
type SubscriptionState struct {
	Status      SessionStatus
	Progress    int
	RetryCount  int
	LastError   string
	Profile     *ProfileFields
	Metrics     *MetricsFields
	AI          *AIFields
	PhaseErrors map[string]string
	Version     uint64
}

// Clone returns a copy that shares no maps with s.
func (s SubscriptionState) Clone() SubscriptionState {
	out := s
	if s.PhaseErrors != nil {
		out.PhaseErrors = make(map[string]string, len(s.PhaseErrors))
		for k, v := range s.PhaseErrors {
			out.PhaseErrors[k] = v
		}
	}
	return out
}
