package index

import (
	"encoding/binary"
	"sort"

	"github.com/tinydb-go/tinydb/storage"
)

// Node layout within an Index page, following the page header:
//
//	node_type(1) num_keys(2) [leaf: next_leaf(4)] entries...
//
// Leaf entries are key_len(2) key_bytes record_id(8). Internal entries
// are child0(4) then repeated key_len(2) key_bytes child(4).
const (
	btreeNodeTypeOff = 0 // relative to page payload
	btreeNumKeysOff  = btreeNodeTypeOff + 1
	btreeNextLeafOff = btreeNumKeysOff + 2
	leafDataOff      = btreeNextLeafOff + 4
	internalDataOff  = btreeNumKeysOff + 2

	nodeTypeInternal = byte(0)
	nodeTypeLeaf     = byte(1)
)

type btreeEntry struct {
	Key      IndexKey
	RecordID uint64
}

type internalNode struct {
	keys     []IndexKey
	children []uint32 // len == len(keys) + 1
}

// BTree is a B+Tree of composite IndexKeys backed by Index pages; leaf
// nodes chain left to right to support ordered range scans.
type BTree struct {
	RootPageID uint32
	pm         *storage.PageManager
}

// NewBTree allocates a fresh, empty tree (a single empty leaf root).
func NewBTree(pm *storage.PageManager) (*BTree, error) {
	root, err := pm.NewPage(storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	payload := root.Payload()
	payload[btreeNodeTypeOff] = nodeTypeLeaf
	binary.LittleEndian.PutUint16(payload[btreeNumKeysOff:], 0)
	binary.LittleEndian.PutUint32(payload[btreeNextLeafOff:], 0)
	if err := pm.SavePage(root, false); err != nil {
		return nil, err
	}
	return &BTree{RootPageID: root.PageID(), pm: pm}, nil
}

// OpenBTree attaches to an existing tree rooted at rootPageID.
func OpenBTree(pm *storage.PageManager, rootPageID uint32) *BTree {
	return &BTree{RootPageID: rootPageID, pm: pm}
}

func (bt *BTree) maxLeafPayload() int    { return int(bt.pm.PageSize()) - storage.PageHeaderSize - leafDataOff }
func (bt *BTree) maxInternalPayload() int {
	return int(bt.pm.PageSize()) - storage.PageHeaderSize - internalDataOff
}

func isLeaf(page *storage.Page) bool {
	return page.Payload()[btreeNodeTypeOff] == nodeTypeLeaf
}

func readLeafEntries(page *storage.Page) []btreeEntry {
	payload := page.Payload()
	num := binary.LittleEndian.Uint16(payload[btreeNumKeysOff:])
	off := leafDataOff
	entries := make([]btreeEntry, 0, num)
	for i := 0; i < int(num); i++ {
		kl := int(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		key, _, err := DecodeKey(payload[off : off+kl])
		if err != nil {
			break
		}
		off += kl
		rid := binary.LittleEndian.Uint64(payload[off:])
		off += 8
		entries = append(entries, btreeEntry{Key: key, RecordID: rid})
	}
	return entries
}

func readLeafNext(page *storage.Page) uint32 {
	return binary.LittleEndian.Uint32(page.Payload()[btreeNextLeafOff:])
}

func writeLeafNode(page *storage.Page, entries []btreeEntry, nextLeaf uint32) {
	payload := page.Payload()
	payload[btreeNodeTypeOff] = nodeTypeLeaf
	binary.LittleEndian.PutUint16(payload[btreeNumKeysOff:], uint16(len(entries)))
	binary.LittleEndian.PutUint32(payload[btreeNextLeafOff:], nextLeaf)
	off := leafDataOff
	for _, e := range entries {
		kb, _ := e.Key.Encode()
		binary.LittleEndian.PutUint16(payload[off:], uint16(len(kb)))
		off += 2
		copy(payload[off:], kb)
		off += len(kb)
		binary.LittleEndian.PutUint64(payload[off:], e.RecordID)
		off += 8
	}
	page.SetFreeBytes(uint16(page.Capacity() - off))
}

func readInternalNode(page *storage.Page) internalNode {
	payload := page.Payload()
	numKeys := binary.LittleEndian.Uint16(payload[btreeNumKeysOff:])
	off := internalDataOff
	node := internalNode{
		keys:     make([]IndexKey, 0, numKeys),
		children: make([]uint32, 0, numKeys+1),
	}
	child0 := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	node.children = append(node.children, child0)
	for i := 0; i < int(numKeys); i++ {
		kl := int(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		key, _, _ := DecodeKey(payload[off : off+kl])
		off += kl
		child := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		node.keys = append(node.keys, key)
		node.children = append(node.children, child)
	}
	return node
}

func writeInternalNode(page *storage.Page, node internalNode) {
	payload := page.Payload()
	payload[btreeNodeTypeOff] = nodeTypeInternal
	binary.LittleEndian.PutUint16(payload[btreeNumKeysOff:], uint16(len(node.keys)))
	off := internalDataOff
	binary.LittleEndian.PutUint32(payload[off:], node.children[0])
	off += 4
	for i, key := range node.keys {
		kb, _ := key.Encode()
		binary.LittleEndian.PutUint16(payload[off:], uint16(len(kb)))
		off += 2
		copy(payload[off:], kb)
		off += len(kb)
		binary.LittleEndian.PutUint32(payload[off:], node.children[i+1])
		off += 4
	}
	page.SetFreeBytes(uint16(page.Capacity() - off))
}

func leafEntriesSize(entries []btreeEntry) int {
	s := 0
	for _, e := range entries {
		kb, _ := e.Key.Encode()
		s += 2 + len(kb) + 8
	}
	return s
}

func internalNodeSize(node internalNode) int {
	s := 4
	for _, k := range node.keys {
		kb, _ := k.Encode()
		s += 2 + len(kb) + 4
	}
	return s
}

func (bt *BTree) findLeaf(key IndexKey) (*storage.Page, error) {
	pageID := bt.RootPageID
	for {
		page, err := bt.pm.GetPage(pageID, true)
		if err != nil {
			return nil, err
		}
		if isLeaf(page) {
			return page, nil
		}
		node := readInternalNode(page)
		// Descend left of an equal separator: duplicates of key may sit
		// in the preceding leaf, and the leaf chain scan walks forward
		// from wherever this lands.
		childIdx := sort.Search(len(node.keys), func(i int) bool {
			return node.keys[i].Compare(key) >= 0
		})
		pageID = node.children[childIdx]
	}
}

func (bt *BTree) findLeftmostLeaf() (*storage.Page, error) {
	pageID := bt.RootPageID
	for {
		page, err := bt.pm.GetPage(pageID, true)
		if err != nil {
			return nil, err
		}
		if isLeaf(page) {
			return page, nil
		}
		node := readInternalNode(page)
		pageID = node.children[0]
	}
}

// Lookup returns every RecordID stored under key (plural: a non-unique
// index may hold several documents per key).
func (bt *BTree) Lookup(key IndexKey) ([]RecordID, error) {
	page, err := bt.findLeaf(key)
	if err != nil {
		return nil, err
	}
	var result []RecordID
	for {
		entries := readLeafEntries(page)
		for _, e := range entries {
			c := e.Key.Compare(key)
			if c == 0 {
				result = append(result, UnpackRecordID(e.RecordID))
			} else if c > 0 {
				return result, nil
			}
		}
		next := readLeafNext(page)
		if next == 0 {
			break
		}
		page, err = bt.pm.GetPage(next, true)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RangeScan returns every RecordID whose key lies in [minKey, maxKey]
// (inclusive). Use MinValue/MaxValue components to leave a bound open.
func (bt *BTree) RangeScan(minKey, maxKey IndexKey) ([]RecordID, error) {
	page, err := bt.findLeaf(minKey)
	if err != nil {
		return nil, err
	}
	var result []RecordID
	for {
		entries := readLeafEntries(page)
		for _, e := range entries {
			if e.Key.Compare(minKey) < 0 {
				continue
			}
			if e.Key.Compare(maxKey) > 0 {
				return result, nil
			}
			result = append(result, UnpackRecordID(e.RecordID))
		}
		next := readLeafNext(page)
		if next == 0 {
			break
		}
		page, err = bt.pm.GetPage(next, true)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

type splitResult struct {
	key       IndexKey
	newPageID uint32
}

// Insert adds (key, recordID). Callers enforcing uniqueness must check
// Lookup(key) for an existing entry first.
func (bt *BTree) Insert(key IndexKey, recordID RecordID) error {
	split, err := bt.insertRecursive(bt.RootPageID, key, recordID.Pack())
	if err != nil {
		return err
	}
	if split != nil {
		newRoot, err := bt.pm.NewPage(storage.PageTypeIndex)
		if err != nil {
			return err
		}
		writeInternalNode(newRoot, internalNode{
			keys:     []IndexKey{split.key},
			children: []uint32{bt.RootPageID, split.newPageID},
		})
		if err := bt.pm.SavePage(newRoot, false); err != nil {
			return err
		}
		bt.RootPageID = newRoot.PageID()
	}
	return nil
}

func (bt *BTree) insertRecursive(pageID uint32, key IndexKey, recordID uint64) (*splitResult, error) {
	page, err := bt.pm.GetPage(pageID, true)
	if err != nil {
		return nil, err
	}
	if isLeaf(page) {
		return bt.insertIntoLeaf(page, key, recordID)
	}
	node := readInternalNode(page)
	childIdx := sort.Search(len(node.keys), func(i int) bool {
		return node.keys[i].Compare(key) > 0
	})
	childSplit, err := bt.insertRecursive(node.children[childIdx], key, recordID)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}
	return bt.insertIntoInternal(page, node, childIdx, childSplit)
}

func (bt *BTree) insertIntoLeaf(page *storage.Page, key IndexKey, recordID uint64) (*splitResult, error) {
	entries := readLeafEntries(page)
	nextLeaf := readLeafNext(page)

	entry := btreeEntry{Key: key, RecordID: recordID}
	pos := sort.Search(len(entries), func(i int) bool {
		c := entries[i].Key.Compare(key)
		if c == 0 {
			return entries[i].RecordID >= recordID
		}
		return c >= 0
	})

	entries = append(entries, btreeEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry

	if leafEntriesSize(entries) <= bt.maxLeafPayload() {
		writeLeafNode(page, entries, nextLeaf)
		return nil, bt.pm.SavePage(page, false)
	}

	mid := len(entries) / 2
	leftEntries := make([]btreeEntry, mid)
	copy(leftEntries, entries[:mid])
	rightEntries := make([]btreeEntry, len(entries)-mid)
	copy(rightEntries, entries[mid:])

	newPage, err := bt.pm.NewPage(storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	writeLeafNode(newPage, rightEntries, nextLeaf)
	if err := bt.pm.SavePage(newPage, false); err != nil {
		return nil, err
	}

	writeLeafNode(page, leftEntries, newPage.PageID())
	if err := bt.pm.SavePage(page, false); err != nil {
		return nil, err
	}

	return &splitResult{key: rightEntries[0].Key, newPageID: newPage.PageID()}, nil
}

func (bt *BTree) insertIntoInternal(page *storage.Page, node internalNode, childIdx int, split *splitResult) (*splitResult, error) {
	node.keys = append(node.keys, IndexKey{})
	copy(node.keys[childIdx+1:], node.keys[childIdx:])
	node.keys[childIdx] = split.key

	node.children = append(node.children, 0)
	copy(node.children[childIdx+2:], node.children[childIdx+1:])
	node.children[childIdx+1] = split.newPageID

	if internalNodeSize(node) <= bt.maxInternalPayload() {
		writeInternalNode(page, node)
		return nil, bt.pm.SavePage(page, false)
	}

	mid := len(node.keys) / 2
	pushUpKey := node.keys[mid]

	leftNode := internalNode{
		keys:     make([]IndexKey, mid),
		children: make([]uint32, mid+1),
	}
	copy(leftNode.keys, node.keys[:mid])
	copy(leftNode.children, node.children[:mid+1])

	rightNode := internalNode{
		keys:     make([]IndexKey, len(node.keys)-mid-1),
		children: make([]uint32, len(node.children)-mid-1),
	}
	copy(rightNode.keys, node.keys[mid+1:])
	copy(rightNode.children, node.children[mid+1:])

	newPage, err := bt.pm.NewPage(storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	writeInternalNode(newPage, rightNode)
	if err := bt.pm.SavePage(newPage, false); err != nil {
		return nil, err
	}

	writeInternalNode(page, leftNode)
	if err := bt.pm.SavePage(page, false); err != nil {
		return nil, err
	}

	return &splitResult{key: pushUpKey, newPageID: newPage.PageID()}, nil
}

// Remove deletes the (key, recordID) pair from its leaf. A no-op if not
// found. Leaves are never rebalanced or merged; empty leaves are
// reclaimed only by an explicit compaction pass.
func (bt *BTree) Remove(key IndexKey, recordID RecordID) error {
	page, err := bt.findLeaf(key)
	if err != nil {
		return err
	}
	packed := recordID.Pack()
	for {
		entries := readLeafEntries(page)
		nextLeaf := readLeafNext(page)
		for i, e := range entries {
			c := e.Key.Compare(key)
			if c > 0 {
				return nil
			}
			if c == 0 && e.RecordID == packed {
				entries = append(entries[:i], entries[i+1:]...)
				writeLeafNode(page, entries, nextLeaf)
				return bt.pm.SavePage(page, false)
			}
		}
		if nextLeaf == 0 {
			return nil
		}
		page, err = bt.pm.GetPage(nextLeaf, true)
		if err != nil {
			return err
		}
	}
}

// All walks every leaf left to right, yielding (key, RecordID) pairs in
// sorted order — used by full index scans.
func (bt *BTree) All() ([]struct {
	Key      IndexKey
	RecordID RecordID
}, error) {
	page, err := bt.findLeftmostLeaf()
	if err != nil {
		return nil, err
	}
	var out []struct {
		Key      IndexKey
		RecordID RecordID
	}
	for {
		for _, e := range readLeafEntries(page) {
			out = append(out, struct {
				Key      IndexKey
				RecordID RecordID
			}{Key: e.Key, RecordID: UnpackRecordID(e.RecordID)})
		}
		next := readLeafNext(page)
		if next == 0 {
			break
		}
		page, err = bt.pm.GetPage(next, true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
