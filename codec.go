// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shortly

import (
	"fmt"
	"strings"
)

// base62Alphabet orders digits before letters; '0' doubles as the padding
// character, so padded codes decode to the same id.
const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MinCodeLength pads generated codes while the id space is small, so
// sequential allocations do not produce one- and two-character codes.
const MinCodeLength = 7

// EncodeID converts an allocated id to its short code: base-62,
// least-significant digit first, reversed, left-padded to MinCodeLength.
func EncodeID(id int64) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("encode id: negative id %d", id)
	}
	var buf [11]byte // ceil(64 / log2(62)) digits covers all of int64
	i := len(buf)
	n := uint64(id)
	for {
		i--
		buf[i] = base62Alphabet[n%62]
		n /= 62
		if n == 0 {
			break
		}
	}
	code := string(buf[i:])
	if pad := MinCodeLength - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}

// DecodeCode is the inverse of EncodeID. It exists for diagnostics (mapping a
// code seen in logs back to its allocator range); the serving path never
// decodes.
func DecodeCode(code string) (int64, error) {
	if code == "" {
		return 0, fmt.Errorf("decode code: empty")
	}
	var n uint64
	for _, c := range []byte(code) {
		d := strings.IndexByte(base62Alphabet, c)
		if d < 0 {
			return 0, fmt.Errorf("decode code: invalid char %q", c)
		}
		next := n*62 + uint64(d)
		if next < n || next > 1<<63-1 {
			return 0, fmt.Errorf("decode code: %q overflows int64", code)
		}
		n = next
	}
	return int64(n), nil
}

// ValidCode reports whether a candidate short code (generated or custom) uses
// only base-62 characters and fits the column.
func ValidCode(code string) bool {
	if code == "" || len(code) > MaxCodeLength {
		return false
	}
	for _, c := range []byte(code) {
		if strings.IndexByte(base62Alphabet, c) < 0 {
			return false
		}
	}
	return true
}
