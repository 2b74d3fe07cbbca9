package analytics

import "fmt"

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const MEMORY_DATA_COLLECTOR DataCollectorType = "MEMORY_DATA_COLLECTOR"
const NOP_DATA_COLLECTOR DataCollectorType = "NOP_DATA_COLLECTOR"

type EventKind string

const EVENT_MODAL_BUTTON EventKind = "modal.button"
const EVENT_MODAL_OUTCOME EventKind = "modal.outcome"
const EVENT_FLOW_STEP EventKind = "flow.step"
const EVENT_FLOW_OUTCOME EventKind = "flow.outcome"

// Event is one user-visible transition worth keeping for product analytics.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionId string         `json:"sessionId"`
	UserId    string         `json:"userId,omitempty"`
	ActionId  string         `json:"actionId,omitempty"`
	State     string         `json:"state"`
	Data      map[string]any `json:"data,omitempty"`
}

type Collector interface {
	Record(ev Event)
	Close() error
}

func NewCollector(config DataCollectorConfig) (Collector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	case MEMORY_DATA_COLLECTOR:
		return NewMemoryCollector(), nil
	case NOP_DATA_COLLECTOR, "":
		return nopCollector{}, nil
	}
	return nil, fmt.Errorf("unknown data collector type %s", config.CollectorType)
}

type nopCollector struct{}

func (nopCollector) Record(Event) {}

func (nopCollector) Close() error { return nil }
