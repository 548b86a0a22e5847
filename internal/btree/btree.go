package btree

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

// New loads an index descriptor, creating an empty root node when the index
// has never been written to.
func New(config *Config) (*Descriptor, error) {
	if config == nil || config.FileManager == nil || config.Logger == nil || config.Comparator == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "index descriptor configuration is required",
		).WithField("config").WithRule("required")
	}
	if config.KeySize <= 0 {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "index key size must be positive",
		).WithField("KeySize").WithRule("positive")
	}

	cacheSlots := 1
	if per := nodeByteSize(config.KeySize); per > 0 && config.CacheLimit > uint64(per) {
		cacheSlots = int(config.CacheLimit / uint64(per))
	}
	cache, err := lru.New[nodeCacheKey, *Node](cacheSlots)
	if err != nil {
		return nil, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to construct index node cache")
	}

	d := &Descriptor{
		id:          config.ID,
		keySize:     config.KeySize,
		cacheLimit:  config.CacheLimit,
		cmp:         config.Comparator,
		fm:          config.FileManager,
		log:         config.Logger,
		wal:         config.WAL,
		cache:       cache,
		lastFile:    config.LastFile,
		lastSize:    config.LastSize,
		newLastFile: config.LastFile,
		newLastSize: config.LastSize,
	}

	if config.LastFile == 0 && config.LastSize == 0 {
		root := &Node{Leaf: true}
		if _, err := d.writeNewNode(root); err != nil {
			return nil, err
		}
		d.root = root
		d.log.Infow("created empty index root", "index", d.id)
		return d, nil
	}

	root, err := d.readNode(childPtr{FileID: 0, Offset: rootAnchorOffset})
	if err != nil {
		return nil, err
	}
	d.root = root
	return d, nil
}

// dropTombstones returns elements with every deleted entry removed,
// preserving order.
func dropTombstones(elements []IndexValue) []IndexValue {
	out := elements[:0]
	for _, e := range elements {
		if !e.Deleted() {
			out = append(out, e)
		}
	}
	return out
}

// encodeNode serializes n to its fixed-width on-disk form, including the
// trailing checksum over everything before it.
func encodeNode(n *Node, keySize int) []byte {
	buf := make([]byte, nodeByteSize(keySize))
	buf[0] = byte(len(n.Elements))

	off := 1
	es := elementSize(keySize)
	for i := 0; i < Order; i++ {
		if i < len(n.Elements) {
			encodeElement(buf[off:off+es], n.Elements[i], keySize)
		}
		off += es
	}

	for i := 0; i < Order+1; i++ {
		if i < len(n.Children) {
			encodeChildPtr(buf[off:off+childSize], n.Children[i].Loc)
		}
		off += childSize
	}

	body := buf[:off]
	binary.LittleEndian.PutUint64(buf[off:off+nodeChecksumSize], xxhash.Sum64(body))
	return buf
}

func encodeElement(buf []byte, v IndexValue, keySize int) {
	copy(buf[:keySize], v.Key)
	binary.LittleEndian.PutUint16(buf[keySize:keySize+2], v.FileID)
	binary.LittleEndian.PutUint32(buf[keySize+2:keySize+6], v.Offset)
	binary.LittleEndian.PutUint32(buf[keySize+6:keySize+10], v.Length)
}

func decodeElement(buf []byte, keySize int) IndexValue {
	key := make([]byte, keySize)
	copy(key, buf[:keySize])
	return IndexValue{
		Key:    key,
		FileID: binary.LittleEndian.Uint16(buf[keySize : keySize+2]),
		Offset: binary.LittleEndian.Uint32(buf[keySize+2 : keySize+6]),
		Length: binary.LittleEndian.Uint32(buf[keySize+6 : keySize+10]),
	}
}

func encodeChildPtr(buf []byte, c childPtr) {
	binary.LittleEndian.PutUint16(buf[0:2], c.FileID)
	binary.LittleEndian.PutUint32(buf[2:6], c.Offset)
}

func decodeChildPtr(buf []byte) childPtr {
	return childPtr{
		FileID: binary.LittleEndian.Uint16(buf[0:2]),
		Offset: binary.LittleEndian.Uint32(buf[2:6]),
	}
}

// decodeNode parses buf (a full nodeByteSize(keySize) page) into a Node,
// after verifying its trailing checksum against the body that precedes it.
func decodeNode(buf []byte, keySize int, fileID uint16, offset uint32) (*Node, error) {
	bodyLen := len(buf) - nodeChecksumSize
	body, sumBytes := buf[:bodyLen], buf[bodyLen:]
	want := binary.LittleEndian.Uint64(sumBytes)
	if got := xxhash.Sum64(body); got != want {
		return nil, errs.NewNodeCorruptedError(fileID, offset)
	}

	n := &Node{FileID: fileID, Offset: offset, Written: true}
	count := int(buf[0])

	off := 1
	es := elementSize(keySize)
	n.Elements = make([]IndexValue, 0, count)
	for i := 0; i < Order; i++ {
		if i < count {
			n.Elements = append(n.Elements, decodeElement(buf[off:off+es], keySize))
		}
		off += es
	}

	ptrs := make([]childPtr, Order+1)
	for i := 0; i < Order+1; i++ {
		ptrs[i] = decodeChildPtr(buf[off : off+childSize])
		off += childSize
	}

	anyChild := false
	for _, p := range ptrs {
		if !p.isNil() {
			anyChild = true
			break
		}
	}
	n.Leaf = !anyChild
	if !n.Leaf {
		n.Children = make([]Child, Order+1)
		for i, p := range ptrs {
			n.Children[i] = Child{Loc: p}
		}
	}
	return n, nil
}

func (d *Descriptor) fileIDFor(fileNo uint16) filemgr.FileID {
	return filemgr.FileID{Type: filemgr.FileTypeIndex, IndexID: d.id, FileNo: fileNo}
}

// readNode loads a node from disk, consulting the resident cache first.
func (d *Descriptor) readNode(loc childPtr) (*Node, error) {
	key := nodeCacheKey{FileID: loc.FileID, Offset: loc.Offset}
	if n, ok := d.cache.Get(key); ok {
		return n, nil
	}

	size := nodeByteSize(d.keySize)
	buf, err := d.fm.ReadAt(d.fileIDFor(loc.FileID), int64(loc.Offset), size)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(buf, d.keySize, loc.FileID, loc.Offset)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, n)
	return n, nil
}

// writeNewNode appends n to the current last index file, rolling to a new
// file when it would overflow, and returns the location it was written at.
func (d *Descriptor) writeNewNode(n *Node) (childPtr, error) {
	size := nodeByteSize(d.keySize)

	overflow, err := d.fm.WouldOverflow(d.fileIDFor(d.newLastFile), size)
	if err != nil {
		return childPtr{}, err
	}
	fileNo := d.newLastFile
	if overflow {
		fileNo = d.newLastFile + 1
	}

	offset, err := d.fm.Append(d.fileIDFor(fileNo), encodeNode(n, d.keySize))
	if err != nil {
		return childPtr{}, err
	}

	n.FileID = fileNo
	n.Offset = uint32(offset)
	n.Written = true
	n.Dirty = false

	newSize, err := d.fm.Size(d.fileIDFor(fileNo))
	if err != nil {
		return childPtr{}, err
	}
	d.newLastFile = fileNo
	d.newLastSize = uint64(newSize)

	loc := childPtr{FileID: fileNo, Offset: uint32(offset)}
	d.cache.Add(nodeCacheKey(loc), n)
	return loc, nil
}

// applyNode overwrites an already-written node's full page in place, or
// installs a new root at the fixed anchor slot, or appends a brand-new node.
// Callers must have already logged whatever before-image this overwrite
// needs and synced the log — applyNode itself never logs anything.
func (d *Descriptor) applyNode(n *Node) error {
	if n.IsNewRoot {
		if err := d.fm.Overwrite(d.fileIDFor(0), int64(rootAnchorOffset), encodeNode(n, d.keySize)); err != nil {
			return err
		}
		n.FileID, n.Offset, n.Written = 0, rootAnchorOffset, true
		n.Dirty, n.IsNewRoot, n.RootAnchorBeforeImage = false, false, nil
		d.cache.Add(nodeCacheKey{FileID: 0, Offset: rootAnchorOffset}, n)
		return nil
	}
	if !n.Written {
		_, err := d.writeNewNode(n)
		return err
	}
	if err := d.fm.Overwrite(d.fileIDFor(n.FileID), int64(n.Offset), encodeNode(n, d.keySize)); err != nil {
		return err
	}
	n.Dirty = false
	n.OriginalBytes = nil
	d.cache.Add(nodeCacheKey{FileID: n.FileID, Offset: n.Offset}, n)
	return nil
}

// child returns a node's i-th child, loading it from disk if not resident.
func (d *Descriptor) child(n *Node, i int) (*Node, error) {
	c := n.Children[i]
	if c.Node != nil {
		return c.Node, nil
	}
	if c.Loc.isNil() {
		return nil, nil
	}
	child, err := d.readNode(c.Loc)
	if err != nil {
		return nil, err
	}
	child.Parent = n
	child.ParentSlot = i
	n.Children[i].Node = child
	return child, nil
}

// search performs the index's comparator-ordered binary search within a
// node's elements, returning (true, index) on an exact match or
// (false, insertion index) otherwise.
func (d *Descriptor) search(n *Node, key []byte) (bool, int) {
	i := sort.Search(len(n.Elements), func(i int) bool {
		return d.cmp(n.Elements[i].Key, key) >= 0
	})
	if i < len(n.Elements) && d.cmp(n.Elements[i].Key, key) == 0 {
		return true, i
	}
	return false, i
}

// Find descends from the root, returning the IndexValue for key and
// whether it was found (a tombstoned element reports found=false).
func (d *Descriptor) Find(key []byte) (IndexValue, bool, error) {
	n := d.root
	for {
		found, idx := d.search(n, key)
		if found {
			v := n.Elements[idx]
			return v, !v.Deleted(), nil
		}
		if n.Leaf {
			return IndexValue{}, false, nil
		}
		next, err := d.child(n, idx)
		if err != nil {
			return IndexValue{}, false, err
		}
		n = next
	}
}

// Insert places value under key, replacing any existing element (including
// a tombstone) in place, or creating a new slot, splitting nodes up to the
// root as needed. It returns the set of nodes that were created or mutated,
// for the commit engine to log and persist.
func (d *Descriptor) Insert(key []byte, value IndexValue) ([]*Node, error) {
	n := d.root
	for {
		found, idx := d.search(n, key)
		if found {
			d.snapshot(n)
			n.Elements[idx] = value
			n.Dirty = true
			return []*Node{n}, nil
		}
		if n.Leaf {
			return d.insertAt(n, idx, value, Child{})
		}
		next, err := d.child(n, idx)
		if err != nil {
			return nil, err
		}
		n = next
	}
}

// snapshot captures n's pre-mutation encoded bytes the first time it is
// touched since its last rewrite, so the commit engine can later log a
// correct before-image. A node with no prior on-disk content needs none.
func (d *Descriptor) snapshot(n *Node) {
	if n.Written && !n.Dirty && n.OriginalBytes == nil {
		n.OriginalBytes = encodeNode(n, d.keySize)
	}
}

// insertAt inserts value (and, for internal nodes, rightChild) into n at
// idx, splitting n and recursively promoting into its parent if needed.
func (d *Descriptor) insertAt(n *Node, idx int, value IndexValue, rightChild Child) ([]*Node, error) {
	d.snapshot(n)
	touched := []*Node{n}

	n.Elements = append(n.Elements, IndexValue{})
	copy(n.Elements[idx+1:], n.Elements[idx:])
	n.Elements[idx] = value
	n.Dirty = true

	if !n.Leaf {
		n.Children = append(n.Children, Child{})
		copy(n.Children[idx+2:], n.Children[idx+1:])
		n.Children[idx+1] = rightChild
		if rightChild.Node != nil {
			rightChild.Node.Parent = n
			rightChild.Node.ParentSlot = idx + 1
		}
	}

	if len(n.Elements) <= Order {
		d.reindexChildren(n)
		return touched, nil
	}

	return d.split(n, touched)
}

// reindexChildren fixes up ParentSlot on resident children after a shift.
func (d *Descriptor) reindexChildren(n *Node) {
	if n.Leaf {
		return
	}
	for i, c := range n.Children {
		if c.Node != nil {
			c.Node.ParentSlot = i
		}
	}
}

// split breaks an overfull node (Order+1 elements) into a left half (n,
// rewritten in place or freshly written if new), a promoted median, and a
// new right sibling, recursing into the parent or creating a new root.
func (d *Descriptor) split(n *Node, touched []*Node) ([]*Node, error) {
	median := n.Elements[Half]

	right := &Node{Leaf: n.Leaf}
	right.Elements = append(right.Elements, n.Elements[Half+1:]...)
	n.Elements = n.Elements[:Half]

	if n.Leaf {
		// Rewrite-on-split tombstone compaction: a leaf's retained halves
		// drop their tombstoned elements here rather than carrying them
		// forward indefinitely. An internal node's own tombstones (rare —
		// only a key deleted while it still lived above a leaf) are left in
		// place, since dropping one would require merging the children it
		// separates rather than a plain element removal.
		n.Elements = dropTombstones(n.Elements)
		right.Elements = dropTombstones(right.Elements)
	}

	if !n.Leaf {
		right.Children = append(right.Children, n.Children[Half+1:]...)
		n.Children = n.Children[:Half+1]
		for i, c := range right.Children {
			if c.Node != nil {
				c.Node.Parent = right
				c.Node.ParentSlot = i
			}
		}
		d.reindexChildren(n)
	}
	n.Dirty = true
	right.Dirty = true

	rightLoc, err := d.writeNewNode(right)
	if err != nil {
		return nil, err
	}
	touched = append(touched, right)

	parent := n.Parent
	if parent == nil {
		// n is the root. The fixed root anchor (file 0, offset
		// rootAnchorOffset) is about to hold newRoot instead, so n's current
		// content — already truncated to its left half above — is relocated
		// to a freshly appended slot first. The append is safe to do
		// immediately (nothing live is destroyed by growing a file); the
		// anchor overwrite itself is deferred to LogBeforeImages/Persist so
		// the commit engine can log its before-image and sync before it
		// lands.
		anchorBeforeImage := n.OriginalBytes
		n.OriginalBytes = nil

		leftLoc, err := d.writeNewNode(n)
		if err != nil {
			return nil, err
		}

		newRoot := &Node{
			Elements:              []IndexValue{median},
			Children:              []Child{{Loc: leftLoc, Node: n}, {Loc: rightLoc, Node: right}},
			Dirty:                 true,
			IsNewRoot:             true,
			RootAnchorBeforeImage: anchorBeforeImage,
		}
		n.Parent, n.ParentSlot = newRoot, 0
		right.Parent, right.ParentSlot = newRoot, 1
		d.root = newRoot

		return append(touched, newRoot), nil
	}

	// n's in-place rewrite is deferred to Persist, alongside every other
	// touched node in this commit — it is already marked Dirty and included
	// in touched above.
	_, insertIdx := d.search(parent, median.Key)
	more, err := d.insertAt(parent, insertIdx, median, Child{Loc: rightLoc, Node: right})
	if err != nil {
		return nil, err
	}
	return append(touched, more...), nil
}

// Delete tombstones the element for key if present, without structural
// rebalancing. It returns the single mutated node, or nil if key was absent.
func (d *Descriptor) Delete(key []byte) (*Node, error) {
	n := d.root
	for {
		found, idx := d.search(n, key)
		if found {
			if n.Elements[idx].Deleted() {
				return nil, nil
			}
			d.snapshot(n)
			n.Elements[idx].Length = DeletedSentinel
			n.Dirty = true
			return n, nil
		}
		if n.Leaf {
			return nil, nil
		}
		next, err := d.child(n, idx)
		if err != nil {
			return nil, err
		}
		n = next
	}
}

// LogBeforeImages logs the write-ahead before-image for every node in nodes
// that Persist is about to destructively overwrite in place: an
// already-written node carrying a captured pre-mutation snapshot, or a new
// root about to occupy the fixed anchor slot. A node with no prior on-disk
// content (a fresh append) needs no before-image and is skipped. The commit
// engine must call this, and sync the log, before calling Persist.
func (d *Descriptor) LogBeforeImages(nodes []*Node) error {
	if d.wal == nil {
		return nil
	}
	seen := make(map[*Node]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] || !n.Dirty {
			continue
		}
		seen[n] = true
		if n.IsNewRoot {
			if n.RootAnchorBeforeImage == nil {
				continue
			}
			if err := d.wal.LogIndexWrite(d.id, 0, rootAnchorOffset, n.RootAnchorBeforeImage); err != nil {
				return err
			}
			continue
		}
		if n.Written && n.OriginalBytes != nil {
			if err := d.wal.LogIndexWrite(d.id, n.FileID, n.Offset, n.OriginalBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// Persist applies every dirty node named in nodes: an append for a node
// never written before, or an in-place overwrite otherwise. The commit
// engine calls this only after LogBeforeImages has logged, and the
// write-ahead log has synced, each node's before-image.
func (d *Descriptor) Persist(nodes []*Node) error {
	seen := make(map[*Node]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] || !n.Dirty {
			continue
		}
		seen[n] = true
		if err := d.applyNode(n); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the resident root node, for callers (such as the commit
// engine) that need its current bytes to log a before-image.
func (d *Descriptor) Root() *Node { return d.root }

// BeforeImage returns the bytes n held on disk prior to its first mutation
// since the last rewrite, or nil if n has never been written (an append
// needs no before-image). The commit engine logs this before calling
// Persist.
func (d *Descriptor) BeforeImage(n *Node) []byte {
	return n.OriginalBytes
}

// Location returns a node's current on-disk address: its own if already
// written, or zero values if it only exists in memory so far.
func (d *Descriptor) Location(n *Node) (fileID uint16, offset uint32) {
	return n.FileID, n.Offset
}

// Ascend walks every live element in ascending key order, stopping early if
// fn returns false. Tombstoned elements are skipped entirely rather than
// being reported to the caller.
func (d *Descriptor) Ascend(fn func(IndexValue) bool) error {
	_, err := d.ascend(d.root, fn)
	return err
}

// ascend performs in-order traversal of n's subtree: for an internal node
// this interleaves child[i], element[i] for every element, followed by the
// final child; a leaf has no children and simply yields its elements.
// cont reports whether the caller should keep traversing past this subtree.
func (d *Descriptor) ascend(n *Node, fn func(IndexValue) bool) (cont bool, err error) {
	for i, v := range n.Elements {
		if !n.Leaf {
			child, err := d.child(n, i)
			if err != nil {
				return false, err
			}
			if child != nil {
				more, err := d.ascend(child, fn)
				if err != nil {
					return false, err
				}
				if !more {
					return false, nil
				}
			}
		}
		if !v.Deleted() {
			if !fn(v) {
				return false, nil
			}
		}
	}
	if !n.Leaf {
		child, err := d.child(n, len(n.Elements))
		if err != nil {
			return false, err
		}
		if child != nil {
			return d.ascend(child, fn)
		}
	}
	return true, nil
}
