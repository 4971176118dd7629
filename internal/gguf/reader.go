package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// maxArrayLen bounds metadata arrays so a corrupt length cannot exhaust memory
// before the bounds checks catch it.
const maxArrayLen = 1 << 24

type Options struct {
	// Mmap maps the file read-only instead of reading it into the heap.
	Mmap bool
	// Mlock pins the file contents in RAM.
	Mlock bool
	// MetadataOnly skips tensor data validation (vocab-only loads).
	MetadataOnly bool
}

// Open reads and validates a GGUF file. If mmap fails it falls back to reading
// the file into memory. The returned file must be closed.
func Open(path string, opts Options) (*GGUFFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	size64 := info.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("file too large to index: %d bytes", size64)
	}
	size := int(size64)
	if size < 24 {
		return nil, ErrTruncated
	}

	var data []byte
	mapped := false
	if opts.Mmap {
		data, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			mapped = true
		}
	}
	if !mapped {
		data = make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, size64), data); err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
	}

	file, err := Parse(data, opts.MetadataOnly)
	if err != nil {
		if mapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	file.mapped = mapped

	if opts.Mlock {
		if err := unix.Mlock(data); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("mlock failed: %w", err)
		}
		file.locked = true
	}

	return file, nil
}

// Parse decodes a GGUF image held in data. Tensor Data slices alias data.
func Parse(data []byte, metadataOnly bool) (*GGUFFile, error) {
	r := &cursor{data: data}
	file := &GGUFFile{
		Data: data,
		KV:   make(map[string]interface{}),
	}

	file.Header.Magic = r.u32()
	if r.err == nil && file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}
	file.Header.Version = r.u32()
	if r.err == nil && (file.Header.Version < 2 || file.Header.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}
	file.Header.TensorCount = r.u64()
	file.Header.KVCount = r.u64()
	if r.err != nil {
		return nil, r.err
	}

	for i := uint64(0); i < file.Header.KVCount; i++ {
		key := r.str()
		typ := GGUFMetadataValueType(r.u32())
		val := r.value(typ, 0)
		if r.err != nil {
			return nil, fmt.Errorf("metadata entry %d: %w", i, r.err)
		}
		file.KV[key] = val
	}

	for i := uint64(0); i < file.Header.TensorCount; i++ {
		name := r.str()
		dims := r.u32()
		if r.err == nil && dims > 4 {
			return nil, fmt.Errorf("tensor %q: %d dimensions", name, dims)
		}
		dimArr := make([]uint64, dims)
		for j := range dimArr {
			dimArr[j] = r.u64()
		}
		typ := GGMLType(r.u32())
		off := r.u64()
		if r.err != nil {
			return nil, fmt.Errorf("tensor info %d: %w", i, r.err)
		}
		file.Tensors = append(file.Tensors, &TensorInfo{
			Name:       name,
			Dimensions: dimArr,
			Type:       typ,
			Offset:     off,
		})
	}

	alignment := uint64(DefaultAlignment)
	switch v := file.KV["general.alignment"].(type) {
	case uint32:
		alignment = uint64(v)
	case uint64:
		alignment = v
	}
	if alignment == 0 {
		return nil, fmt.Errorf("invalid alignment 0")
	}

	offset := uint64(r.off)
	if rem := offset % alignment; rem != 0 {
		offset += alignment - rem
	}
	file.DataOffset = offset

	if metadataOnly {
		return file, nil
	}

	for _, t := range file.Tensors {
		start := offset + t.Offset
		end := start + t.SizeBytes()
		if start > uint64(len(data)) || end > uint64(len(data)) {
			return nil, fmt.Errorf("tensor %q out of bounds: [%d, %d) of %d", t.Name, start, end, len(data))
		}
		t.Data = data[start:end]
	}

	return file, nil
}

// Close releases the mapping (and lock) if any.
func (f *GGUFFile) Close() error {
	if f.Data == nil {
		return nil
	}
	if f.locked {
		_ = unix.Munlock(f.Data)
		f.locked = false
	}
	var err error
	if f.mapped {
		err = unix.Munmap(f.Data)
		f.mapped = false
	}
	f.Data = nil
	return err
}

// cursor is a bounds-checked little-endian reader. The first failure sticks.
type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) take(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if n > uint64(len(c.data)-c.off) {
		c.err = ErrTruncated
		return nil
	}
	b := c.data[c.off : c.off+int(n)]
	c.off += int(n)
	return b
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *cursor) str() string {
	n := c.u64()
	return string(c.take(n))
}

func (c *cursor) value(typ GGUFMetadataValueType, depth int) interface{} {
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return c.u8()
	case GGUFMetadataValueTypeInt8:
		return int8(c.u8())
	case GGUFMetadataValueTypeUint16:
		return c.u16()
	case GGUFMetadataValueTypeInt16:
		return int16(c.u16())
	case GGUFMetadataValueTypeUint32:
		return c.u32()
	case GGUFMetadataValueTypeInt32:
		return int32(c.u32())
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(c.u32())
	case GGUFMetadataValueTypeBool:
		return c.u8() != 0
	case GGUFMetadataValueTypeString:
		return c.str()
	case GGUFMetadataValueTypeUint64:
		return c.u64()
	case GGUFMetadataValueTypeInt64:
		return int64(c.u64())
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(c.u64())
	case GGUFMetadataValueTypeArray:
		if depth > 0 {
			c.fail(fmt.Errorf("nested arrays are not supported"))
			return nil
		}
		elemType := GGUFMetadataValueType(c.u32())
		n := c.u64()
		if c.err != nil {
			return nil
		}
		if n > maxArrayLen {
			c.fail(fmt.Errorf("array length %d exceeds limit", n))
			return nil
		}
		arr := make([]interface{}, 0, n)
		for i := uint64(0); i < n && c.err == nil; i++ {
			arr = append(arr, c.value(elemType, depth+1))
		}
		return arr
	default:
		c.fail(fmt.Errorf("unsupported metadata type: %d", typ))
		return nil
	}
}

func (c *cursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
