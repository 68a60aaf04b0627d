package rdx

import "slices"

// VV is a version vector: the highest sequence seen from each replica
// source, used here as the snapshot-version type threaded through the
// handover port (engine.Snapshot.Version) and compared in Query.Deliver
// against the version a handover packet was produced against. Grounded
// on the teacher's rdx.VV (vv.go), trimmed of its TLV wire encoding
// (the storage engine's persistence format, out of scope here).
type VV map[uint64]uint64

func (vv VV) Get(src uint64) uint64 {
	return vv[src]
}

// Put records src's progress, returning whether it advanced the vector.
func (vv VV) Put(src, seq uint64) bool {
	pre, ok := vv[src]
	if ok && pre >= seq {
		return false
	}
	vv[src] = seq
	return true
}

// Seen reports whether vv has observed everything bb has.
func (vv VV) Seen(bb VV) bool {
	for src, seq := range bb {
		if vv[src] < seq {
			return false
		}
	}
	return true
}

// Clone returns an independent copy: VV is a reference type (map) and
// snapshots must never alias each other's version vectors (spec.md §5:
// "Snapshots ... are never aliased").
func (vv VV) Clone() VV {
	cp := make(VV, len(vv))
	for k, v := range vv {
		cp[k] = v
	}
	return cp
}

func (vv VV) Equal(other VV) bool {
	if len(vv) != len(other) {
		return false
	}
	for k, v := range vv {
		if other[k] != v {
			return false
		}
	}
	return true
}

func (vv VV) sources() []uint64 {
	srcs := make([]uint64, 0, len(vv))
	for src := range vv {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

func (vv VV) String() string {
	srcs := vv.sources()
	ret := make([]byte, 0, len(vv)*16)
	for i, src := range srcs {
		if i != 0 {
			ret = append(ret, ',')
		}
		ret = appendUintHex(ret, src)
		ret = append(ret, ':')
		ret = appendUintHex(ret, vv[src])
	}
	return string(ret)
}

func appendUintHex(b []byte, v uint64) []byte {
	var buf [16]byte
	n := len(buf)
	if v == 0 {
		return append(b, '0')
	}
	for v > 0 {
		n--
		buf[n] = "0123456789abcdef"[v&0xf]
		v >>= 4
	}
	return append(b, buf[n:]...)
}
