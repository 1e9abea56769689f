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

// Package confd implements the signed UDP config-distribution responder
// (C8): datagram parsing, HMAC verification, the per-request-type query
// dispatch against a confcache.Cache, and reply signing.
//
// The magic-prefixed, HMAC-signed datagram shape has no precedent
// anywhere in the pack (no repo speaks a custom UDP wire protocol), so
// the codec here is original, built on stdlib crypto/hmac+crypto/sha1
// and net — there is no ecosystem HMAC-over-UDP framing library in the
// examples to ground this on, and hand-rolling the documented wire
// format is simpler and more auditable than adopting a generic
// messaging library for a four-field envelope. Metrics wiring follows
// the teacher's pkg/metrics collector-registry pattern.
package confd

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
)

var log = clog.Get("confd")

// Magic is the 4-byte prefix every confd datagram begins with.
var Magic = [4]byte{'g', 'c', 'f', 'd'}

type envelope struct {
	Msg  json.RawMessage `json:"msg"`
	Salt string          `json:"salt"`
	HMAC string          `json:"hmac"`
}

// ErrBadMagic, ErrBadHMAC and ErrSaltSkew identify datagrams that must
// be silently dropped rather than answered.
var (
	ErrBadMagic = errors.New("confd: bad magic prefix")
	ErrBadHMAC  = errors.New("confd: hmac verification failed")
	ErrSaltSkew = errors.New("confd: salt outside clock skew window")
)

func sign(key []byte, salt string, inner json.RawMessage) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(salt))
	mac.Write(inner)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(key []byte, env envelope) bool {
	expect := sign(key, env.Salt, env.Msg)
	return hmac.Equal([]byte(expect), []byte(env.HMAC))
}

func checkSalt(salt string, skew time.Duration, ref time.Time) error {
	secs, err := strconv.ParseInt(salt, 10, 64)
	if err != nil {
		return errors.Wrap(ErrSaltSkew, "salt is not a unix timestamp")
	}
	ts := time.Unix(secs, 0)
	delta := ref.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return ErrSaltSkew
	}
	return nil
}

// decodeDatagram strips and checks the magic prefix, verifies HMAC and
// salt freshness, and returns the inner JSON message. Any failure maps
// to one of the package's drop-worthy sentinel errors.
func decodeDatagram(data []byte, key []byte, skew time.Duration, ref time.Time) (json.RawMessage, string, error) {
	if len(data) < len(Magic) {
		return nil, "", ErrBadMagic
	}
	for i, b := range Magic {
		if data[i] != b {
			return nil, "", ErrBadMagic
		}
	}

	var env envelope
	if err := json.Unmarshal(data[len(Magic):], &env); err != nil {
		return nil, "", errors.Wrap(err, "confd: malformed envelope")
	}

	if !verify(key, env) {
		return nil, "", ErrBadHMAC
	}
	if err := checkSalt(env.Salt, skew, ref); err != nil {
		return nil, "", err
	}

	return env.Msg, env.Salt, nil
}

// encodeReply signs payload with salt (the request's own salt, echoed
// back per §4.8) and wraps it with the magic prefix.
func encodeReply(key []byte, salt string, payload interface{}) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "confd: encoding reply payload")
	}
	env := envelope{Msg: inner, Salt: salt, HMAC: sign(key, salt, inner)}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "confd: encoding reply envelope")
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic[:]...)
	out = append(out, body...)
	return out, nil
}
