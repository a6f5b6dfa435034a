package internal

// Event is the envelope published for every emitted task event.
type Event struct {
	// ID is shared by every copy of the event fanned out to several drivers.
	ID        string                 `json:"id,omitempty"`
	Provider  string                 `json:"provider"`
	Name      string                 `json:"name"`
	RequestID string                 `json:"request_id,omitempty"`
	ProjectID int64                  `json:"project_id"`
	Data      map[string]interface{} `json:"data"`
}
