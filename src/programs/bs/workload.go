package bs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	KindData   = "data"
	KindBranch = "branch"
)

// NodeSpec describes one node of a workload file. Value and Index apply to
// data nodes, Mid to branch nodes.
type NodeSpec struct {
	ID    uint64 `yaml:"id"`
	Kind  string `yaml:"kind"`
	Value uint64 `yaml:"value"`
	Index uint64 `yaml:"index"`
	Mid   uint64 `yaml:"mid"`
}

type VisitSpec struct {
	Ability string `yaml:"ability"`
	Node    uint64 `yaml:"node"`
	Edges   uint64 `yaml:"edges"`
}

type WalkerSpec struct {
	Value  uint64      `yaml:"value"`
	Visits []VisitSpec `yaml:"visits"`
}

// UnitSpec is the partition of the graph assigned to one compute unit.
type UnitSpec struct {
	Nodes   []NodeSpec   `yaml:"nodes"`
	Walkers []WalkerSpec `yaml:"walkers"`
}

// Workload is a host-side description of a bs run, one entry per unit.
type Workload struct {
	Units []UnitSpec `yaml:"units"`
}

func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload %s: %w", path, err)
	}
	return ParseWorkload(data)
}

func ParseWorkload(data []byte) (*Workload, error) {
	workload := new(Workload)
	if err := yaml.Unmarshal(data, workload); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}

	for i, unit := range workload.Units {
		for _, node := range unit.Nodes {
			if _, err := node.Record(); err != nil {
				return nil, fmt.Errorf("unit %d: %w", i, err)
			}
		}
	}
	return workload, nil
}

// Record encodes the node as it is laid out in MRAM.
func (n NodeSpec) Record() ([]byte, error) {
	switch n.Kind {
	case KindData, "":
		return DataNode{Value: n.Value, Index: n.Index}.Encode(), nil
	case KindBranch:
		return BranchNode{Mid: n.Mid}.Encode(), nil
	default:
		return nil, fmt.Errorf("node %d has unknown kind %q", n.ID, n.Kind)
	}
}

func (w WalkerSpec) Record() []byte {
	return Walker{Value: w.Value}.Encode()
}
