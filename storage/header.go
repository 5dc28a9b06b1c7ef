package storage

import "encoding/binary"

// dbMagic identifies a TinyDb data file.
var dbMagic = [4]byte{'T', 'D', 'B', '1'}

const dbFormatVersion = uint32(1)

// SecurityMetadataSize is the fixed salt[16] || key_hash[32] || flag(1)
// slot the password-protection module fills; the storage layer treats
// it as opaque.
const SecurityMetadataSize = 16 + 32 + 1

// header offsets within page 1's payload.
const (
	hOffMagic       = 0
	hOffVersion     = 4
	hOffPageSize    = 8
	hOffTotalPages  = 12
	hOffFirstFree   = 16
	hOffCatalogRoot = 20
	hOffSecurity    = 24
)

// DatabaseHeader is the parsed form of page 1's payload.
type DatabaseHeader struct {
	PageSize        uint32
	TotalPages      uint32
	FirstFreePageID uint32
	CatalogRootID   uint32
	Security        [SecurityMetadataSize]byte
}

// EncodeInto writes the header fields into page 1's payload.
func (h *DatabaseHeader) EncodeInto(page *Page) {
	p := page.Payload()
	copy(p[hOffMagic:], dbMagic[:])
	binary.LittleEndian.PutUint32(p[hOffVersion:], dbFormatVersion)
	binary.LittleEndian.PutUint32(p[hOffPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(p[hOffTotalPages:], h.TotalPages)
	binary.LittleEndian.PutUint32(p[hOffFirstFree:], h.FirstFreePageID)
	binary.LittleEndian.PutUint32(p[hOffCatalogRoot:], h.CatalogRootID)
	copy(p[hOffSecurity:], h.Security[:])
}

// DecodeHeader parses page 1's payload, validating the magic and
// version.
func DecodeHeader(page *Page) (*DatabaseHeader, error) {
	p := page.Payload()
	if len(p) < hOffSecurity+SecurityMetadataSize {
		return nil, errCorrupted("database header page too small")
	}
	var magic [4]byte
	copy(magic[:], p[hOffMagic:hOffMagic+4])
	if magic != dbMagic {
		return nil, errCorrupted("bad magic number")
	}
	version := binary.LittleEndian.Uint32(p[hOffVersion:])
	if version != dbFormatVersion {
		return nil, errCorrupted("unsupported format version")
	}
	h := &DatabaseHeader{
		PageSize:        binary.LittleEndian.Uint32(p[hOffPageSize:]),
		TotalPages:      binary.LittleEndian.Uint32(p[hOffTotalPages:]),
		FirstFreePageID: binary.LittleEndian.Uint32(p[hOffFirstFree:]),
		CatalogRootID:   binary.LittleEndian.Uint32(p[hOffCatalogRoot:]),
	}
	copy(h.Security[:], p[hOffSecurity:hOffSecurity+SecurityMetadataSize])
	if h.PageSize <= uint32(PageHeaderSize) {
		return nil, errCorrupted("impossible page size in header")
	}
	return h, nil
}
