// Package bs is the binary-search sample program: two node kinds, one walker
// kind and the abilities compiled against them.
package bs

import (
	"errors"
	"fmt"

	"jacPIMulator/src/abi/encoding"
)

const (
	DataNodeSize   = 16
	BranchNodeSize = 8
	WalkerSize     = 8
)

var ErrRecordSize = errors.New("record buffer has the wrong size")

type DataNode struct {
	Value uint64
	Index uint64
}

type BranchNode struct {
	Mid uint64
}

// Walker is the bs walker: a single accumulator.
type Walker struct {
	Value uint64
}

func checkSize(kind string, buf []byte, size int) error {
	if len(buf) < size {
		return fmt.Errorf("%s needs %d bytes, got %d: %w", kind, size, len(buf), ErrRecordSize)
	}
	return nil
}

func DecodeDataNode(buf []byte) (DataNode, error) {
	if err := checkSize("DataNode", buf, DataNodeSize); err != nil {
		return DataNode{}, err
	}
	return DataNode{Value: encoding.Word(buf, 0), Index: encoding.Word(buf, 8)}, nil
}

func (n DataNode) Encode() []byte {
	buf := make([]byte, DataNodeSize)
	encoding.PutWord(buf, 0, n.Value)
	encoding.PutWord(buf, 8, n.Index)
	return buf
}

func DecodeBranchNode(buf []byte) (BranchNode, error) {
	if err := checkSize("BranchNode", buf, BranchNodeSize); err != nil {
		return BranchNode{}, err
	}
	return BranchNode{Mid: encoding.Word(buf, 0)}, nil
}

func (n BranchNode) Encode() []byte {
	buf := make([]byte, BranchNodeSize)
	encoding.PutWord(buf, 0, n.Mid)
	return buf
}

func DecodeWalker(buf []byte) (Walker, error) {
	if err := checkSize("bs walker", buf, WalkerSize); err != nil {
		return Walker{}, err
	}
	return Walker{Value: encoding.Word(buf, 0)}, nil
}

func (w Walker) Encode() []byte {
	buf := make([]byte, WalkerSize)
	encoding.PutWord(buf, 0, w.Value)
	return buf
}
