// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"math"
	"reflect"
	"sync"

	"github.com/IMCG/thrill/internal/kind"
	"github.com/grailbio/base/errors"
)

// SelfVerify, when true, causes every item written by Serialize to be
// preceded by a 64-bit type fingerprint, and every item read by
// Deserialize to check it; SerializeValue and DeserializeValue never
// write or check the fingerprint. It is a package-level debug switch, matching the single
// self-verify mode described in spec.md §4.1 (the teacher's analogue
// is the per-column codec-presence flag in sliceio/codec.go).
var SelfVerify = false

// Serialize writes the encoding of v to w. Variable-size containers
// (strings, slices) are preceded by an unsigned varint length; fixed-
// size primitives, arrays, and structs are written with no framing.
func Serialize[T any](w io.Writer, v T) error {
	if SelfVerify {
		if err := writeFingerprint(w, reflect.TypeOf(v)); err != nil {
			return err
		}
	}
	return encodeValue(w, reflect.ValueOf(v))
}

// Deserialize reads a value of type T from r, as produced by
// Serialize. It returns a kind.Underflow error on truncation and a
// kind.TypeMismatch error when SelfVerify is enabled and the stream's
// fingerprint does not match T's.
func Deserialize[T any](r io.Reader) (T, error) {
	var v T
	if SelfVerify {
		typ := reflect.TypeOf(v)
		ok, err := checkFingerprint(r, typ)
		if err != nil {
			return v, err
		}
		if !ok {
			return v, kind.TypeMismatch("got unexpected type on decode")
		}
	}
	rv := reflect.ValueOf(&v).Elem()
	if err := decodeValue(r, rv); err != nil {
		return v, err
	}
	return v, nil
}

// SerializeValue writes the encoding of v, whose concrete type is
// known only at runtime, to w. It underlies Group implementations
// whose SendTo takes an interface{} value (net.Group in spec.md §6)
// since a generic method parameter is not expressible in Go.
func SerializeValue(w io.Writer, v interface{}) error {
	return encodeValue(w, reflect.ValueOf(v))
}

// DeserializeValue reads into *dst, which must be a non-nil pointer,
// the encoding written by SerializeValue, or by Serialize while
// SelfVerify is off, for the pointed-to type. It underlies Group implementations whose ReceiveFrom takes
// a destination pointer.
func DeserializeValue(r io.Reader, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.E(errors.Invalid, "data: DeserializeValue requires a non-nil pointer")
	}
	return decodeValue(r, rv.Elem())
}

// IsFixedSize reports whether every encoding of T occupies exactly
// FixedSize(T) bytes, computed recursively over T's structure.
func IsFixedSize[T any]() bool {
	var v T
	ok, _ := fixedSize(reflect.TypeOf(v))
	return ok
}

// FixedSize returns the encoded size of T in bytes. It panics if T is
// not fixed size; callers should guard with IsFixedSize.
func FixedSize[T any]() int {
	var v T
	ok, n := fixedSize(reflect.TypeOf(v))
	if !ok {
		panic("data: type is not fixed size")
	}
	return n
}

var fixedSizeCache sync.Map // reflect.Type -> fixedSizeInfo

type fixedSizeInfo struct {
	ok   bool
	size int
}

func fixedSize(typ reflect.Type) (bool, int) {
	if typ == nil {
		return false, 0
	}
	if v, ok := fixedSizeCache.Load(typ); ok {
		info := v.(fixedSizeInfo)
		return info.ok, info.size
	}
	ok, n := computeFixedSize(typ)
	fixedSizeCache.Store(typ, fixedSizeInfo{ok, n})
	return ok, n
}

func computeFixedSize(typ reflect.Type) (bool, int) {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return true, 1
	case reflect.Int16, reflect.Uint16:
		return true, 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return true, 4
	case reflect.Int64, reflect.Uint64, reflect.Float64, reflect.Int, reflect.Uint:
		return true, 8
	case reflect.Array:
		ok, elem := fixedSize(typ.Elem())
		if !ok {
			return false, 0
		}
		return true, elem * typ.Len()
	case reflect.Struct:
		total := 0
		for i := 0; i < typ.NumField(); i++ {
			ok, n := fixedSize(typ.Field(i).Type)
			if !ok {
				return false, 0
			}
			total += n
		}
		return true, total
	default:
		// Strings and slices are length-prefixed and therefore
		// variable size.
		return false, 0
	}
}

func encodeValue(w io.Writer, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		return writeByte(w, b)
	case reflect.Int8:
		return writeByte(w, byte(int8(v.Int())))
	case reflect.Uint8:
		return writeByte(w, byte(v.Uint()))
	case reflect.Int16:
		return writeFixed(w, uint64(uint16(v.Int())), 2)
	case reflect.Uint16:
		return writeFixed(w, uint64(uint16(v.Uint())), 2)
	case reflect.Int32:
		return writeFixed(w, uint64(uint32(v.Int())), 4)
	case reflect.Uint32:
		return writeFixed(w, uint64(uint32(v.Uint())), 4)
	case reflect.Float32:
		return writeFixed(w, uint64(math.Float32bits(float32(v.Float()))), 4)
	case reflect.Int, reflect.Int64:
		return writeFixed(w, uint64(v.Int()), 8)
	case reflect.Uint, reflect.Uint64:
		return writeFixed(w, v.Uint(), 8)
	case reflect.Float64:
		return writeFixed(w, math.Float64bits(v.Float()), 8)
	case reflect.String:
		s := v.String()
		if err := writeVarint(w, uint64(len(s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(w, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		n := v.Len()
		if err := writeVarint(w, uint64(n)); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := encodeValue(w, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := encodeValue(w, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Ptr:
		return encodeValue(w, v.Elem())
	default:
		return errors.E(errors.Invalid, "data: unsupported type for serialization", v.Type().String())
	}
}

func decodeValue(r io.Reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		b, err := readByte(r)
		if err != nil {
			return err
		}
		v.SetBool(b != 0)
		return nil
	case reflect.Int8:
		b, err := readByte(r)
		if err != nil {
			return err
		}
		v.SetInt(int64(int8(b)))
		return nil
	case reflect.Uint8:
		b, err := readByte(r)
		if err != nil {
			return err
		}
		v.SetUint(uint64(b))
		return nil
	case reflect.Int16:
		n, err := readFixed(r, 2)
		if err != nil {
			return err
		}
		v.SetInt(int64(int16(n)))
		return nil
	case reflect.Uint16:
		n, err := readFixed(r, 2)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Int32:
		n, err := readFixed(r, 4)
		if err != nil {
			return err
		}
		v.SetInt(int64(int32(n)))
		return nil
	case reflect.Uint32:
		n, err := readFixed(r, 4)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Float32:
		n, err := readFixed(r, 4)
		if err != nil {
			return err
		}
		v.SetFloat(float64(math.Float32frombits(uint32(n))))
		return nil
	case reflect.Int, reflect.Int64:
		n, err := readFixed(r, 8)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
		return nil
	case reflect.Uint, reflect.Uint64:
		n, err := readFixed(r, 8)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Float64:
		n, err := readFixed(r, 8)
		if err != nil {
			return err
		}
		v.SetFloat(math.Float64frombits(n))
		return nil
	case reflect.String:
		n, err := readVarint(r)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return underflowOnEOF(err)
		}
		v.SetString(string(buf))
		return nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := decodeValue(r, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		n, err := readVarint(r)
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(v.Type(), int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := decodeValue(r, out.Index(i)); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := decodeValue(r, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return decodeValue(r, v.Elem())
	default:
		return errors.E(errors.Invalid, "data: unsupported type for deserialization", v.Type().String())
	}
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, underflowOnEOF(err)
	}
	return buf[0], nil
}

func writeFixed(w io.Writer, n uint64, size int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	_, err := w.Write(buf[:size])
	return err
}

func readFixed(r io.Reader, size int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		return 0, underflowOnEOF(err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeVarint(w io.Writer, n uint64) error {
	var buf [binary.MaxVarintLen64]byte
	m := binary.PutUvarint(buf[:], n)
	_, err := w.Write(buf[:m])
	return err
}

func readVarint(r io.Reader) (uint64, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReaderAdapter{r}
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, underflowOnEOF(err)
	}
	return n, nil
}

type byteReaderAdapter struct{ io.Reader }

func (b *byteReaderAdapter) ReadByte() (byte, error) { return readByte(b.Reader) }

func underflowOnEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return kind.Underflow(err)
	}
	return err
}

// writeFingerprint and checkFingerprint implement the self-verify
// mode described in spec.md §9: a stable 64-bit fingerprint derived
// from the type's name and structure, written ahead of every item.
func writeFingerprint(w io.Writer, typ reflect.Type) error {
	return writeFixed(w, fingerprint(typ), 8)
}

func checkFingerprint(r io.Reader, typ reflect.Type) (bool, error) {
	got, err := readFixed(r, 8)
	if err != nil {
		return false, err
	}
	return got == fingerprint(typ), nil
}

var fingerprintCache sync.Map // reflect.Type -> uint64

func fingerprint(typ reflect.Type) uint64 {
	if v, ok := fingerprintCache.Load(typ); ok {
		return v.(uint64)
	}
	h := fnv.New64a()
	writeTypeDescriptor(h, typ)
	sum := h.Sum64()
	fingerprintCache.Store(typ, sum)
	return sum
}

func writeTypeDescriptor(h io.Writer, typ reflect.Type) {
	io.WriteString(h, typ.Kind().String())
	switch typ.Kind() {
	case reflect.Array, reflect.Slice, reflect.Ptr:
		writeTypeDescriptor(h, typ.Elem())
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			io.WriteString(h, f.Name)
			writeTypeDescriptor(h, f.Type)
		}
	default:
		io.WriteString(h, typ.String())
	}
}
