package target

import (
	"github.com/cstech/hexboot/pkg/crc16"
	"github.com/cstech/hexboot/pkg/hexfile"
)

// FillChecksum walks [start, end) in block-sized steps and feeds absent
// blocks as erased flash.
func FillChecksum(start, end int64, blockSize int, blocks *hexfile.BlockStore) uint16 {
	crc := crc16.Seed
	for addr := start; addr < end; addr += int64(blockSize) {
		block := blocks.Get(uint32(addr / int64(blockSize)))
		if block == nil {
			for j := 0; j < blockSize; j++ {
				crc = crc16.Update(crc, hexfile.Fill)
			}
			continue
		}
		crc = crc16.Checksum(crc, block)
	}
	return crc
}

// NoFillChecksum walks [start, end) and feeds only present, non-empty
// blocks. Tiny bootloaders leave unused cells out of their own checksum
// because erased flash reads back as fill anyway.
func NoFillChecksum(start, end int64, blockSize int, blocks *hexfile.BlockStore) uint16 {
	crc := crc16.Seed
	for addr := start; addr < end; addr += int64(blockSize) {
		block := blocks.Get(uint32(addr / int64(blockSize)))
		if block == nil || SimpleEmpty(block) {
			continue
		}
		crc = crc16.Checksum(crc, block)
	}
	return crc
}

// ZeroChecksum always reports zero. HMI application images are balanced
// offline with an inserted checksum so the device computes zero over the
// whole space.
func ZeroChecksum(start, end int64, blockSize int, blocks *hexfile.BlockStore) uint16 {
	return 0
}
