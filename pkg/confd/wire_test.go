// Copyright 2024 The Ganeti Authors.
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

package confd

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-cluster-hmac-key")

func buildDatagram(t *testing.T, key []byte, salt string, msg interface{}) []byte {
	t.Helper()
	inner, err := json.Marshal(msg)
	require.NoError(t, err)
	env := envelope{Msg: inner, Salt: salt, HMAC: sign(key, salt, inner)}
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return append(append([]byte{}, Magic[:]...), body...)
}

func TestDecodeDatagramRoundTrip(t *testing.T) {
	now := time.Now()
	salt := strconv.FormatInt(now.Unix(), 10)
	dg := buildDatagram(t, testKey, salt, request{Type: ReqPing})

	inner, gotSalt, err := decodeDatagram(dg, testKey, 5*time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, salt, gotSalt)

	var req request
	require.NoError(t, json.Unmarshal(inner, &req))
	require.Equal(t, ReqPing, req.Type)
}

func TestDecodeDatagramBadMagic(t *testing.T) {
	now := time.Now()
	salt := strconv.FormatInt(now.Unix(), 10)
	dg := buildDatagram(t, testKey, salt, request{Type: ReqPing})
	dg[0] ^= 0xff

	_, _, err := decodeDatagram(dg, testKey, 5*time.Minute, now)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeDatagramBadHMAC(t *testing.T) {
	now := time.Now()
	salt := strconv.FormatInt(now.Unix(), 10)
	dg := buildDatagram(t, testKey, salt, request{Type: ReqPing})

	_, _, err := decodeDatagram(dg, []byte("wrong-key"), 5*time.Minute, now)
	require.ErrorIs(t, err, ErrBadHMAC)
}

func TestDecodeDatagramSaltSkew(t *testing.T) {
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	salt := strconv.FormatInt(stale.Unix(), 10)
	dg := buildDatagram(t, testKey, salt, request{Type: ReqPing})

	_, _, err := decodeDatagram(dg, testKey, 5*time.Minute, now)
	require.ErrorIs(t, err, ErrSaltSkew)
}

func TestEncodeReplySignedWithRequestSalt(t *testing.T) {
	salt := "1700000000"
	out, err := encodeReply(testKey, salt, okReply("cluster-version"))
	require.NoError(t, err)

	inner, gotSalt, err := decodeDatagram(out, testKey, 365*24*time.Hour, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Equal(t, salt, gotSalt)

	var rep reply
	require.NoError(t, json.Unmarshal(inner, &rep))
	require.Equal(t, StatusOk, rep.Status)
	require.Equal(t, "cluster-version", rep.Answer)
}
