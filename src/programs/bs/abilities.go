package bs

import (
	"jacPIMulator/src/abi/encoding"
	"jacPIMulator/src/simulator/dpu/ability"
)

const (
	TagSum ability.Tag = iota + 1
	TagPrintNode
	TagRundown
	TagCount
	TagStamp
)

// Register installs the bs abilities into table.
func Register(table *ability.Table) error {
	entries := []ability.Entry{
		{Tag: TagSum, Name: "sum", Fn: Sum},
		{Tag: TagPrintNode, Name: "printnode", Fn: PrintNode},
		{Tag: TagRundown, Name: "rundown", Fn: Rundown},
		{Tag: TagCount, Name: "count", Fn: Count},
		{Tag: TagStamp, Name: "stamp", Fn: Stamp},
	}

	for _, entry := range entries {
		if err := table.Register(entry.Tag, entry.Name, entry.Fn); err != nil {
			return err
		}
	}
	return nil
}

// NewTable returns a table holding only the bs abilities.
func NewTable() *ability.Table {
	table := ability.NewTable()
	if err := Register(table); err != nil {
		panic(err)
	}
	return table
}

// Sum adds the DataNode value into the walker. The node is left untouched.
func Sum(walker []byte, node []byte, ctx *ability.Context) error {
	if err := checkSize("bs walker", walker, WalkerSize); err != nil {
		return err
	}
	if err := checkSize("DataNode", node, DataNodeSize); err != nil {
		return err
	}

	encoding.PutWord(walker, 0, encoding.Word(walker, 0)+encoding.Word(node, 0))
	return nil
}

// PrintNode reports the visited DataNode through the result container.
func PrintNode(walker []byte, node []byte, ctx *ability.Context) error {
	if err := checkSize("DataNode", node, DataNodeSize); err != nil {
		return err
	}

	ctx.Results.Push(ctx.NodeID)
	return nil
}

// Rundown descends through a BranchNode without touching any state.
func Rundown(walker []byte, node []byte, ctx *ability.Context) error {
	return checkSize("BranchNode", node, BranchNodeSize)
}

func Count(walker []byte, node []byte, ctx *ability.Context) error {
	if err := checkSize("bs walker", walker, WalkerSize); err != nil {
		return err
	}

	encoding.PutWord(walker, 0, encoding.Word(walker, 0)+1)
	return nil
}

// Stamp records the walker value in the DataNode index.
func Stamp(walker []byte, node []byte, ctx *ability.Context) error {
	if err := checkSize("bs walker", walker, WalkerSize); err != nil {
		return err
	}
	if err := checkSize("DataNode", node, DataNodeSize); err != nil {
		return err
	}

	encoding.PutWord(node, 8, encoding.Word(walker, 0))
	return nil
}
