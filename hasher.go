package bloomgo

import (
	"crypto/md5"  //nolint:gosec // index derivation, not security; fixes the stored bit layout
	"crypto/sha1" //nolint:gosec // see above
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
)

// byteOrder is the pinned byte order for salt seeds and digest unpacking.
// It is part of the persisted bit layout: changing it relocates every bit of
// every existing filter.
var byteOrder = binary.LittleEndian

// indexer derives, for any key, a deterministic sequence of numSlices bit
// indices in [0, numBits). The digest family and packing width are selected
// once from (numSlices, numBits); both selections are part of the stored
// layout and must never change for existing filters.
//
// An indexer holds no mutable state after construction, so a single instance
// serves concurrent callers without locking.
type indexer struct {
	numSlices int
	numBits   uint64 // bits per slice
	width     int    // bytes per packed index: 2, 4 or 8
	perDigest int    // indices unpacked from one digest
	newHash   func() hash.Hash
	salts     [][]byte
}

func newIndexer(numSlices int, numBits uint64) *indexer {
	ix := &indexer{
		numSlices: numSlices,
		numBits:   numBits,
	}

	// Smallest unsigned packing wide enough to index one slice.
	switch {
	case numBits >= 1<<31:
		ix.width = 8
	case numBits >= 1<<15:
		ix.width = 4
	default:
		ix.width = 2
	}

	// Smallest digest that yields enough packed indices per invocation.
	totalBits := 8 * numSlices * ix.width
	switch {
	case totalBits > 384:
		ix.newHash = sha512.New
	case totalBits > 256:
		ix.newHash = sha512.New384
	case totalBits > 160:
		ix.newHash = sha256.New
	case totalBits > 128:
		ix.newHash = sha1.New
	default:
		ix.newHash = md5.New
	}

	ix.perDigest = ix.newHash().Size() / ix.width

	numSalts := numSlices / ix.perDigest
	if numSlices%ix.perDigest != 0 {
		numSalts++
	}

	// salt[i] = H(H(i)). Feeding salt||key into a fresh hash produces the
	// same digest as cloning a salt-seeded hash state and appending key, so
	// the salts can be retained as plain immutable byte slices.
	ix.salts = make([][]byte, numSalts)
	for i := range ix.salts {
		var seed [4]byte
		byteOrder.PutUint32(seed[:], uint32(i))
		ix.salts[i] = ix.digest(ix.digest(seed[:]))
	}

	return ix
}

func (ix *indexer) digest(data []byte) []byte {
	h := ix.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// indexes returns exactly numSlices intra-slice indices for key, one per
// slice, each in [0, numBits). Calling it twice with the same key yields
// identical output.
func (ix *indexer) indexes(key []byte) []uint64 {
	out := make([]uint64, 0, ix.numSlices)
	for _, salt := range ix.salts {
		h := ix.newHash()
		h.Write(salt)
		h.Write(key)
		sum := h.Sum(nil)

		for i := 0; i+ix.width <= len(sum); i += ix.width {
			var v uint64
			switch ix.width {
			case 2:
				v = uint64(byteOrder.Uint16(sum[i:]))
			case 4:
				v = uint64(byteOrder.Uint32(sum[i:]))
			default:
				v = byteOrder.Uint64(sum[i:])
			}
			out = append(out, v%ix.numBits)
			if len(out) == ix.numSlices {
				return out
			}
		}
	}
	return out
}

// offsets returns the global bit positions for key: the i-th index lands in
// slice i, at i*bitsPerSlice plus the intra-slice index.
func (ix *indexer) offsets(key []byte) []uint64 {
	out := ix.indexes(key)
	for i := range out {
		out[i] += uint64(i) * ix.numBits
	}
	return out
}
