package commit

import "github.com/iamNilotpal/cryptexdb/pkg/errs"

// Read implements txn.Reader by descending the named index and reading the
// requested window directly out of the shared data files.
func (e *Engine) Read(indexID byte, key []byte, offset, length uint32) ([]byte, bool, error) {
	desc, ok := e.indexes[indexID]
	if !ok {
		return nil, false, errs.NewInvariantError("read targets an unregistered index").WithIndexID(indexID)
	}

	value, found, err := desc.Find(key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if offset >= value.Length {
		return []byte{}, true, nil
	}

	end := offset + length
	if end > value.Length {
		end = value.Length
	}
	data, err := e.fm.ReadAt(dataFileID(value.FileID), int64(value.Offset+offset), int(end-offset))
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Length implements txn.Reader.
func (e *Engine) Length(indexID byte, key []byte) (uint32, bool, error) {
	desc, ok := e.indexes[indexID]
	if !ok {
		return 0, false, errs.NewInvariantError("read targets an unregistered index").WithIndexID(indexID)
	}
	value, found, err := desc.Find(key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	return value.Length, true, nil
}
