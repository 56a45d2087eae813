package hexfile

import (
	"slices"
)

// Fill is the value unwritten block bytes assume, matching erased flash.
const Fill = 0xFF

// A BlockStore is a sparse mapping from block index to a fixed-size block
// buffer. An absent block reads back as erased flash on the device.
type BlockStore struct {
	blockSize int
	blocks    map[uint32][]byte
}

// NewBlockStore creates an empty store with the given block size.
func NewBlockStore(blockSize int) *BlockStore {
	return &BlockStore{
		blockSize: blockSize,
		blocks:    map[uint32][]byte{},
	}
}

// BlockSize returns the immutable block size.
func (s *BlockStore) BlockSize() int {
	return s.blockSize
}

// Len returns the number of present blocks.
func (s *BlockStore) Len() int {
	return len(s.blocks)
}

// Get returns the block at the given index or nil if absent.
func (s *BlockStore) Get(index uint32) []byte {
	return s.blocks[index]
}

// Block returns the block at the given index, allocating a filled buffer on
// first access.
func (s *BlockStore) Block(index uint32) []byte {
	// check existing
	if block, ok := s.blocks[index]; ok {
		return block
	}

	// allocate filled block
	block := make([]byte, s.blockSize)
	for i := range block {
		block[i] = Fill
	}
	s.blocks[index] = block

	return block
}

// Remove drops the block at the given index.
func (s *BlockStore) Remove(index uint32) {
	delete(s.blocks, index)
}

// Write copies data at the given effective address, splitting across block
// boundaries as needed.
func (s *BlockStore) Write(addr uint32, data []byte) {
	for len(data) > 0 {
		// locate block and offset
		index := addr / uint32(s.blockSize)
		offset := int(addr % uint32(s.blockSize))

		// copy what fits
		n := copy(s.Block(index)[offset:], data)

		// advance
		addr += uint32(n)
		data = data[n:]
	}
}

// Indexes returns the present block indexes in ascending order.
func (s *BlockStore) Indexes() []uint32 {
	indexes := make([]uint32, 0, len(s.blocks))
	for index := range s.blocks {
		indexes = append(indexes, index)
	}
	slices.Sort(indexes)
	return indexes
}
