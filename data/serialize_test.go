// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"bytes"
	"testing"

	fuzz "github.com/google/gofuzz"
)

type point struct {
	X, Y int32
}

type mixed struct {
	Name   string
	Values []int64
	Point  point
}

func TestSerializeRoundTrip(t *testing.T) {
	cases := []interface{}{
		true,
		int8(-7), uint8(7),
		int16(-1000), uint16(1000),
		int32(-100000), uint32(100000),
		int64(-1 << 40), uint64(1 << 40),
		float32(3.5), float64(2.718281828),
		"hello, block",
		[]int32{1, 2, 3, 4, 5},
		point{X: 1, Y: -2},
		mixed{Name: "n", Values: []int64{1, 2, 3}, Point: point{X: 9, Y: 9}},
	}
	for _, v := range cases {
		switch v := v.(type) {
		case bool:
			roundTrip(t, v)
		case int8:
			roundTrip(t, v)
		case uint8:
			roundTrip(t, v)
		case int16:
			roundTrip(t, v)
		case uint16:
			roundTrip(t, v)
		case int32:
			roundTrip(t, v)
		case uint32:
			roundTrip(t, v)
		case int64:
			roundTrip(t, v)
		case uint64:
			roundTrip(t, v)
		case float32:
			roundTrip(t, v)
		case float64:
			roundTrip(t, v)
		case string:
			roundTrip(t, v)
		case []int32:
			roundTrip(t, v)
		case point:
			roundTrip(t, v)
		case mixed:
			roundTrip(t, v)
		}
	}
}

func roundTrip[T any](t *testing.T, v T) {
	t.Helper()
	var buf bytes.Buffer
	if err := Serialize(&buf, v); err != nil {
		t.Fatalf("Serialize(%v): %v", v, err)
	}
	got, err := Deserialize[T](&buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	gotBuf, wantBuf := new(bytes.Buffer), new(bytes.Buffer)
	Serialize(gotBuf, got)
	Serialize(wantBuf, v)
	if !bytes.Equal(gotBuf.Bytes(), wantBuf.Bytes()) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, v)
	}
}

func TestSerializeFuzzRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 8)
	for i := 0; i < 200; i++ {
		var m mixed
		f.Fuzz(&m)
		roundTrip(t, m)
	}
}

func TestFixedSize(t *testing.T) {
	if !IsFixedSize[point]() {
		t.Fatal("point should be fixed size")
	}
	if got, want := FixedSize[point](), 8; got != want {
		t.Fatalf("FixedSize(point) = %d, want %d", got, want)
	}
	if IsFixedSize[mixed]() {
		t.Fatal("mixed should not be fixed size (contains a slice)")
	}
	if IsFixedSize[string]() {
		t.Fatal("string should not be fixed size")
	}
}

func TestSelfVerifyTypeMismatch(t *testing.T) {
	SelfVerify = true
	defer func() { SelfVerify = false }()

	var buf bytes.Buffer
	if err := Serialize(&buf, int32(42)); err != nil {
		t.Fatal(err)
	}
	if _, err := Deserialize[string](&buf); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestUnderflow(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(1) // truncated int64
	if _, err := Deserialize[int64](&buf); err == nil {
		t.Fatal("expected underflow error")
	}
}
