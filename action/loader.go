package action

import (
	"fmt"
	"os"

	"github.com/mohitkumar/actionrouter/model"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk catalog. JSON files parse too, JSON being a YAML subset.
type Document struct {
	Actions []model.ActionDefinition `yaml:"actions"`
	Modals  []model.ModalConfig      `yaml:"modals"`
	Flows   []model.FlowDefinition   `yaml:"flows"`

	CustomHandlers []model.CustomHandlerSpec `yaml:"customHandlers"`
}

func Parse(data []byte) (*Snapshot, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing catalog %w", err)
	}
	snap, err := NewSnapshot(doc.Actions, doc.Modals, doc.Flows)
	if err != nil {
		return nil, err
	}
	if err := snap.WithCustomHandlers(doc.CustomHandlers); err != nil {
		return nil, err
	}
	return snap, nil
}

func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog %s %w", path, err)
	}
	return Parse(data)
}
