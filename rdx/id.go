// Package rdx carries the small set of wire-level identity and version
// primitives the async query subsystem needs from the storage engine:
// a row identifier and a version vector. It is trimmed down from the
// teacher's rdx package, which also implements a full CRDT value
// grammar (LWW registers, counters, sets, maps) that belongs to the
// storage engine and is out of scope here (see DESIGN.md).
package rdx

import (
	"encoding/binary"
	"strconv"
)

// RowID identifies a row within a table, as a (source replica, sequence)
// pair the way the teacher's ID type does. It doubles as the row-diff
// engine's row_index: two RowIDs compare by source then by sequence, which
// gives every table a total, stable order independent of position.
type RowID struct {
	src uint64
	seq uint64
}

var BadRowID = RowID{src: ^uint64(0), seq: ^uint64(0)}
var RowID0 = RowID{}

func NewRowID(src, seq uint64) RowID {
	return RowID{src: src, seq: seq}
}

func (id RowID) Src() uint64 { return id.src }
func (id RowID) Seq() uint64 { return id.seq }

func (id RowID) Less(other RowID) bool {
	if id.src != other.src {
		return id.src < other.src
	}
	return id.seq < other.seq
}

func (id RowID) Equal(other RowID) bool {
	return id.src == other.src && id.seq == other.seq
}

func (id RowID) Bytes() []byte {
	var ret [16]byte
	binary.BigEndian.PutUint64(ret[:8], id.src)
	binary.BigEndian.PutUint64(ret[8:16], id.seq)
	return ret[:]
}

func RowIDFromBytes(by []byte) RowID {
	return RowID{
		src: binary.BigEndian.Uint64(by[:8]),
		seq: binary.BigEndian.Uint64(by[8:16]),
	}
}

func (id RowID) String() string {
	var buf [48]byte
	b := buf[:0]
	b = strconv.AppendUint(b, id.src, 16)
	b = append(b, '-')
	b = strconv.AppendUint(b, id.seq, 16)
	return string(b)
}
