package wal

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

var logFile = filemgr.FileID{Type: filemgr.FileTypeLog}

// New opens (creating if necessary) the singleton log file, leaving any
// un-recovered content in place for the caller to inspect via Recover.
func New(config *Config) (*Log, error) {
	if config == nil || config.FileManager == nil || config.Logger == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "write-ahead log configuration is required",
		).WithField("config").WithRule("required")
	}

	size, err := config.FileManager.Size(logFile)
	if err != nil {
		return nil, err
	}
	if size < lengthHeaderSize {
		if _, err := config.FileManager.Append(logFile, make([]byte, lengthHeaderSize)); err != nil {
			return nil, err
		}
	}

	return &Log{fm: config.FileManager, log: config.Logger, disableSync: config.DisableSync}, nil
}

// recordBytes encodes one Record, including its trailing checksum.
func recordBytes(r Record) []byte {
	body := make([]byte, 12+len(r.PrevBytes))
	body[0] = byte(r.FileType)
	body[1] = r.IndexID
	binary.LittleEndian.PutUint16(body[2:4], r.FileID)
	binary.LittleEndian.PutUint32(body[4:8], r.Offset)
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(r.PrevBytes)))
	copy(body[12:], r.PrevBytes)

	buf := make([]byte, 4+len(body)+checksumSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:4+len(body)], body)
	binary.LittleEndian.PutUint64(buf[4+len(body):], xxhash.Sum64(body))
	return buf
}

// append writes one record's encoded bytes to the end of the log file.
func (l *Log) append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.fm.Append(logFile, recordBytes(r))
	return err
}

// LogIndexWrite implements btree.WALWriter.
func (l *Log) LogIndexWrite(indexID byte, fileID uint16, offset uint32, prevBytes []byte) error {
	return l.append(Record{
		FileType: filemgr.FileTypeIndex, IndexID: indexID, FileID: fileID, Offset: offset, PrevBytes: prevBytes,
	})
}

// LogDeletionIndexWrite implements delindex.WALWriter.
func (l *Log) LogDeletionIndexWrite(offset int64, prevBytes [12]byte) error {
	return l.append(Record{
		FileType: filemgr.FileTypeDeletionIndex, FileID: 0, Offset: uint32(offset), PrevBytes: prevBytes[:],
	})
}

// LogDataWrite records the before-image of a data-file byte range that is
// about to be overwritten in place (a sub-section write, or a full
// replacement that fits within the value's existing extent).
func (l *Log) LogDataWrite(fileID uint16, offset uint32, prevBytes []byte) error {
	return l.append(Record{
		FileType: filemgr.FileTypeData, FileID: fileID, Offset: offset, PrevBytes: prevBytes,
	})
}

// terminalBytes encodes the marker closing out one commit: the database's
// own tail state plus every touched index's tail state.
func terminalBytes(dbTail TailState, indexTails []TailState) []byte {
	body := make([]byte, 0, 2+8+1+len(indexTails)*11)
	var fileBuf [2]byte
	binary.LittleEndian.PutUint16(fileBuf[:], dbTail.LastFile)
	body = append(body, fileBuf[:]...)

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], dbTail.LastSize)
	body = append(body, sizeBuf[:]...)

	body = append(body, byte(len(indexTails)))
	for _, t := range indexTails {
		var entry [11]byte
		entry[0] = t.IndexID
		binary.LittleEndian.PutUint16(entry[1:3], t.LastFile)
		binary.LittleEndian.PutUint64(entry[3:11], t.LastSize)
		body = append(body, entry[:]...)
	}

	buf := make([]byte, 4+4+len(body)+checksumSize)
	binary.LittleEndian.PutUint32(buf[0:4], recordLenSentinel)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:8+len(body)], body)
	binary.LittleEndian.PutUint64(buf[8+len(body):], xxhash.Sum64(body))
	return buf
}

// Finalize appends the terminal marker for the in-flight commit and syncs
// the log, establishing durability for every before-image appended so far.
func (l *Log) Finalize(dbTail TailState, indexTails []TailState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.fm.Append(logFile, terminalBytes(dbTail, indexTails)); err != nil {
		return err
	}

	size, err := l.fm.Size(logFile)
	if err != nil {
		return err
	}
	var lenBuf [lengthHeaderSize]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(size)-lengthHeaderSize)
	if err := l.fm.Overwrite(logFile, 0, lenBuf[:]); err != nil {
		return err
	}
	if l.disableSync {
		return nil
	}
	return l.fm.Sync(logFile)
}

// Truncate discards the log's content after a successful commit: the length
// header is zeroed and the file truncated back to just that header, then
// synced. A crash mid-truncate is idempotent — a zero-length header already
// equals "nothing to recover".
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero [lengthHeaderSize]byte
	if err := l.fm.Overwrite(logFile, 0, zero[:]); err != nil {
		return err
	}
	if err := l.fm.Truncate(logFile, lengthHeaderSize); err != nil {
		return err
	}
	if l.disableSync {
		return nil
	}
	return l.fm.Sync(logFile)
}

// Recover replays a non-empty log in reverse, restoring every overwritten
// range to its before-image, then returns the tail state the terminal
// marker recorded so the caller can restore last_file/last_size bookkeeping.
// A log with a zero length header reports ok=false and does nothing.
func (l *Log) Recover() (dbTail TailState, indexTails []TailState, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	header, err := l.fm.ReadAt(logFile, 0, lengthHeaderSize)
	if err != nil {
		return TailState{}, nil, false, err
	}
	length := binary.LittleEndian.Uint64(header)
	if length == 0 {
		return TailState{}, nil, false, nil
	}

	content, err := l.fm.ReadAt(logFile, lengthHeaderSize, int(length))
	if err != nil {
		return TailState{}, nil, false, err
	}

	records, marker, perr := parseLog(content)
	if perr != nil {
		return TailState{}, nil, false, perr
	}

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		target := filemgr.FileID{Type: r.FileType, IndexID: r.IndexID, FileNo: r.FileID}
		if err := l.fm.Overwrite(target, int64(r.Offset), r.PrevBytes); err != nil {
			return TailState{}, nil, false, err
		}
	}

	if err := l.Truncate(); err != nil {
		return TailState{}, nil, false, err
	}
	l.log.Infow("write-ahead log recovered", "records_replayed", len(records))
	return marker.db, marker.indexes, true, nil
}

type terminalMarker struct {
	db      TailState
	indexes []TailState
}

// parseLog scans content forward, decoding every record up to and including
// the terminal marker, validating each checksum along the way.
func parseLog(content []byte) ([]Record, terminalMarker, error) {
	var records []Record
	off := 0
	for off < len(content) {
		if off+4 > len(content) {
			return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
		}
		length := binary.LittleEndian.Uint32(content[off : off+4])
		off += 4

		if length == recordLenSentinel {
			if off+4 > len(content) {
				return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
			}
			bodyLen := binary.LittleEndian.Uint32(content[off : off+4])
			off += 4
			if off+int(bodyLen)+checksumSize > len(content) {
				return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
			}
			body := content[off : off+int(bodyLen)]
			sum := binary.LittleEndian.Uint64(content[off+int(bodyLen) : off+int(bodyLen)+checksumSize])
			if xxhash.Sum64(body) != sum {
				return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
			}
			marker, err := decodeMarker(body)
			if err != nil {
				return nil, terminalMarker{}, err
			}
			return records, marker, nil
		}

		if off+int(length)+checksumSize > len(content) {
			return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
		}
		body := content[off : off+int(length)]
		sum := binary.LittleEndian.Uint64(content[off+int(length) : off+int(length)+checksumSize])
		if xxhash.Sum64(body) != sum {
			return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off))
		}

		rec, err := decodeRecord(body)
		if err != nil {
			return nil, terminalMarker{}, err
		}
		records = append(records, rec)
		off += int(length) + checksumSize
	}
	return nil, terminalMarker{}, errs.NewWALCorruptedError(nil, len(records), int64(off)).
		WithDetail("reason", "log ended without a terminal marker")
}

func decodeRecord(body []byte) (Record, error) {
	if len(body) < 12 {
		return Record{}, errs.NewWALCorruptedError(nil, 0, 0)
	}
	prevLen := binary.LittleEndian.Uint32(body[8:12])
	if len(body) != 12+int(prevLen) {
		return Record{}, errs.NewWALCorruptedError(nil, 0, 0)
	}
	prev := make([]byte, prevLen)
	copy(prev, body[12:])
	return Record{
		FileType:  filemgr.FileType(body[0]),
		IndexID:   body[1],
		FileID:    binary.LittleEndian.Uint16(body[2:4]),
		Offset:    binary.LittleEndian.Uint32(body[4:8]),
		PrevBytes: prev,
	}, nil
}

func decodeMarker(body []byte) (terminalMarker, error) {
	if len(body) < 11 {
		return terminalMarker{}, errs.NewWALCorruptedError(nil, 0, 0)
	}
	db := TailState{
		LastFile: binary.LittleEndian.Uint16(body[0:2]),
		LastSize: binary.LittleEndian.Uint64(body[2:10]),
	}
	count := int(body[10])
	off := 11
	indexes := make([]TailState, 0, count)
	for i := 0; i < count; i++ {
		if off+11 > len(body) {
			return terminalMarker{}, errs.NewWALCorruptedError(nil, 0, 0)
		}
		indexes = append(indexes, TailState{
			IndexID:  body[off],
			LastFile: binary.LittleEndian.Uint16(body[off+1 : off+3]),
			LastSize: binary.LittleEndian.Uint64(body[off+3 : off+11]),
		})
		off += 11
	}
	return terminalMarker{db: db, indexes: indexes}, nil
}
