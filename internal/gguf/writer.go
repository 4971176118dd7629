package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/x448/float16"
)

// Writer assembles a GGUF v3 file. Metadata keys and tensors are written in
// insertion order; tensor data is aligned to DefaultAlignment.
type Writer struct {
	keys    []string
	kv      map[string]interface{}
	tensors []pendingTensor
	err     error
}

type pendingTensor struct {
	name string
	dims []uint64
	typ  GGMLType
	data []byte
}

func NewWriter() *Writer {
	return &Writer{kv: make(map[string]interface{})}
}

// Set records a metadata value. Supported Go types: string, bool, uint8,
// int8, uint16, int16, uint32, int32, uint64, int64, float32, float64,
// []string, []int32, []uint32, []float32.
func (w *Writer) Set(key string, value interface{}) *Writer {
	if _, ok := metadataType(value); !ok {
		w.setErr(fmt.Errorf("key %q: unsupported value type %T", key, value))
		return w
	}
	if _, exists := w.kv[key]; !exists {
		w.keys = append(w.keys, key)
	}
	w.kv[key] = value
	return w
}

// AddTensor appends a tensor with raw data already encoded as typ.
func (w *Writer) AddTensor(name string, dims []uint64, typ GGMLType, data []byte) *Writer {
	info := TensorInfo{Dimensions: dims, Type: typ}
	if want := info.SizeBytes(); want != uint64(len(data)) {
		w.setErr(fmt.Errorf("tensor %q: %d bytes of data, want %d", name, len(data), want))
		return w
	}
	w.tensors = append(w.tensors, pendingTensor{name: name, dims: dims, typ: typ, data: data})
	return w
}

func (w *Writer) AddF32(name string, dims []uint64, values []float32) *Writer {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return w.AddTensor(name, dims, GGMLTypeF32, buf)
}

func (w *Writer) AddF16(name string, dims []uint64, values []float32) *Writer {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
	}
	return w.AddTensor(name, dims, GGMLTypeF16, buf)
}

func (w *Writer) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}

// WriteFile writes the file to path, replacing any existing file.
func (w *Writer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	bw := &countingWriter{w: bufio.NewWriter(out)}

	bw.put(uint32(GGUFMagic))
	bw.put(uint32(GGUFVersion))
	bw.put(uint64(len(w.tensors)))
	bw.put(uint64(len(w.keys)))

	for _, k := range w.keys {
		bw.str(k)
		v := w.kv[k]
		typ, _ := metadataType(v)
		bw.put(uint32(typ))
		bw.value(v)
	}

	var offset uint64
	offsets := make([]uint64, len(w.tensors))
	for i, t := range w.tensors {
		offsets[i] = offset
		offset = align(offset+uint64(len(t.data)), DefaultAlignment)
	}
	for i, t := range w.tensors {
		bw.str(t.name)
		bw.put(uint32(len(t.dims)))
		for _, d := range t.dims {
			bw.put(d)
		}
		bw.put(uint32(t.typ))
		bw.put(offsets[i])
	}

	bw.pad(DefaultAlignment)
	for _, t := range w.tensors {
		bw.write(t.data)
		bw.pad(DefaultAlignment)
	}

	if bw.err == nil {
		bw.err = bw.w.Flush()
	}
	return bw.n, bw.err
}

func align(n, a uint64) uint64 {
	if rem := n % a; rem != 0 {
		return n + a - rem
	}
	return n
}

func metadataType(v interface{}) (GGUFMetadataValueType, bool) {
	switch v.(type) {
	case uint8:
		return GGUFMetadataValueTypeUint8, true
	case int8:
		return GGUFMetadataValueTypeInt8, true
	case uint16:
		return GGUFMetadataValueTypeUint16, true
	case int16:
		return GGUFMetadataValueTypeInt16, true
	case uint32:
		return GGUFMetadataValueTypeUint32, true
	case int32:
		return GGUFMetadataValueTypeInt32, true
	case uint64:
		return GGUFMetadataValueTypeUint64, true
	case int64:
		return GGUFMetadataValueTypeInt64, true
	case float32:
		return GGUFMetadataValueTypeFloat32, true
	case float64:
		return GGUFMetadataValueTypeFloat64, true
	case bool:
		return GGUFMetadataValueTypeBool, true
	case string:
		return GGUFMetadataValueTypeString, true
	case []string, []int32, []uint32, []float32:
		return GGUFMetadataValueTypeArray, true
	default:
		return 0, false
	}
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) write(b []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(b)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) put(v interface{}) {
	if c.err != nil {
		return
	}
	c.err = binary.Write(c.w, binary.LittleEndian, v)
	if c.err == nil {
		c.n += int64(binary.Size(v))
	}
}

func (c *countingWriter) str(s string) {
	c.put(uint64(len(s)))
	c.write([]byte(s))
}

func (c *countingWriter) pad(a uint64) {
	if rem := uint64(c.n) % a; rem != 0 {
		c.write(make([]byte, a-rem))
	}
}

func (c *countingWriter) value(v interface{}) {
	switch x := v.(type) {
	case bool:
		var b uint8
		if x {
			b = 1
		}
		c.put(b)
	case string:
		c.str(x)
	case []string:
		c.put(uint32(GGUFMetadataValueTypeString))
		c.put(uint64(len(x)))
		for _, s := range x {
			c.str(s)
		}
	case []int32:
		c.put(uint32(GGUFMetadataValueTypeInt32))
		c.put(uint64(len(x)))
		c.put(x)
	case []uint32:
		c.put(uint32(GGUFMetadataValueTypeUint32))
		c.put(uint64(len(x)))
		c.put(x)
	case []float32:
		c.put(uint32(GGUFMetadataValueTypeFloat32))
		c.put(uint64(len(x)))
		c.put(x)
	default:
		c.put(x)
	}
}
