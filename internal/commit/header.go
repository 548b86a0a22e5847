package commit

import (
	"encoding/binary"

	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
)

// IndexHeader is the decoded form of an index's fixed 6-byte file-0 header.
// The root node itself carries no stored pointer: it always lives at the
// fixed anchor btree.Descriptor installs it at (file 0, immediately after
// this header), so only the tail needs persisting here.
type IndexHeader struct {
	LastFile uint16
	LastSize uint64
}

// ReadIndexHeader loads indexID's header, writing a zeroed one (and growing
// the file to make room for it) if the index has never been opened before.
// A zero-value header tells btree.New to create a fresh empty root.
func ReadIndexHeader(fm *filemgr.Manager, indexID byte) (IndexHeader, error) {
	id := indexFileID(indexID)
	size, err := fm.Size(id)
	if err != nil {
		return IndexHeader{}, err
	}
	if size < indexHeaderSize {
		if _, err := fm.Append(id, make([]byte, indexHeaderSize-size)); err != nil {
			return IndexHeader{}, err
		}
		return IndexHeader{}, nil
	}

	buf, err := fm.ReadAt(id, 0, indexHeaderSize)
	if err != nil {
		return IndexHeader{}, err
	}
	return IndexHeader{
		LastFile: binary.LittleEndian.Uint16(buf[0:2]),
		LastSize: uint64(binary.LittleEndian.Uint32(buf[2:6])),
	}, nil
}

// WriteIndexHeader persists indexID's current tail values to its file-0
// header.
func WriteIndexHeader(fm *filemgr.Manager, indexID byte, lastFile uint16, lastSize uint64) error {
	var buf [indexHeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], lastFile)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(lastSize))
	return fm.Overwrite(indexFileID(indexID), 0, buf[:])
}
