package target

import (
	"encoding/binary"

	"github.com/cstech/hexboot/pkg/hexfile"
)

// BlockAddress returns the transmitted address of a block: the natural byte
// position scaled by the addressing width plus the space offset.
func BlockAddress(index uint32, blockLen, addressing int, offset int64) int64 {
	return int64(index)*int64(blockLen)/int64(addressing) + offset
}

// SimpleSendFilter emits the 4-byte big-endian block address followed by
// the block verbatim.
func SimpleSendFilter(index uint32, block []byte, addressing int, offset int64) []byte {
	addr := BlockAddress(index, len(block), addressing, offset)
	out := make([]byte, 4, 4+len(block))
	binary.BigEndian.PutUint32(out, uint32(addr))
	return append(out, block...)
}

// HMISendFilter emits the block address followed by the first three bytes
// of every 4-byte stride. PIC24 hex files carry a phantom fourth byte per
// instruction word that is never programmed.
func HMISendFilter(index uint32, block []byte, addressing int, offset int64) []byte {
	addr := BlockAddress(index, len(block), addressing, offset)
	out := make([]byte, 4, 4+len(block)/4*3)
	binary.BigEndian.PutUint32(out, uint32(addr))
	for i := 0; i+3 < len(block); i += 4 {
		out = append(out, block[i], block[i+1], block[i+2])
	}
	return out
}

// SimpleEmpty reports whether every byte of the block is erased.
func SimpleEmpty(block []byte) bool {
	for _, b := range block {
		if b != hexfile.Fill {
			return false
		}
	}
	return true
}

// PIC24Empty reports whether every 4-byte stride is erased in its first
// three bytes. The phantom byte is ignored.
func PIC24Empty(block []byte) bool {
	for i := 0; i+3 < len(block); i += 4 {
		if block[i] != hexfile.Fill || block[i+1] != hexfile.Fill || block[i+2] != hexfile.Fill {
			return false
		}
	}
	return true
}

// ExcludeFilter drops all excluded block ranges from the store. It runs
// before the checksum so the local value matches what the device computes
// over regions it refuses to program.
func ExcludeFilter(blocks *hexfile.BlockStore, space *Space) {
	for _, rng := range space.Excludes {
		if !rng.Exclude {
			continue
		}
		for index := rng.Start; index <= rng.End; index++ {
			blocks.Remove(index)
		}
	}
}
