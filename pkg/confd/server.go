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
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/confcache"
)

// Config holds the tunables of a Server.
type Config struct {
	Addr           string
	HMACKey        []byte
	HMACClockSkew  time.Duration
	HandlerTimeout time.Duration

	// ClusterName and PrimaryIPFamily are resolved from ssconf at
	// startup and only used to identify the cluster in the startup log
	// line; queries answer from the cache's snapshot, not from these.
	ClusterName     string
	PrimaryIPFamily string
}

// Server is the confd UDP responder: a single receive loop that spawns
// one handler goroutine per datagram.
type Server struct {
	cfg   Config
	cache *confcache.Cache
	conn  net.PacketConn

	wg sync.WaitGroup
}

// NewServer binds the UDP socket for cfg.Addr. The cache is expected to
// already be running (Start called) by the caller.
func NewServer(cfg Config, cache *confcache.Cache) (*Server, error) {
	conn, err := net.ListenPacket("udp", cfg.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "confd: listening on %s", cfg.Addr)
	}
	return &Server{cfg: cfg, cache: cache, conn: conn}, nil
}

// Serve runs the receive loop until ctx is canceled. It returns once
// the socket is closed and every in-flight handler has finished or
// timed out.
func (s *Server) Serve(ctx context.Context) error {
	log.Info("confd: serving cluster %q (ip family %s) on %s", s.cfg.ClusterName, s.cfg.PrimaryIPFamily, s.cfg.Addr)

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "confd: reading datagram")
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, datagram, addr)
		}()
	}
}

// handle decodes, verifies, dispatches and replies to one datagram,
// bounded by cfg.HandlerTimeout.
func (s *Server) handle(ctx context.Context, datagram []byte, addr net.Addr) {
	start := time.Now()
	defer func() { handlerSeconds.Observe(time.Since(start).Seconds()) }()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	defer cancel()

	inner, salt, err := decodeDatagram(datagram, s.cfg.HMACKey, s.cfg.HMACClockSkew, start)
	if err != nil {
		dropsTotal.WithLabelValues(dropReason(err)).Inc()
		log.Debug("confd: dropping datagram from %s: %v", addr, err)
		return
	}

	var req request
	if err := json.Unmarshal(inner, &req); err != nil {
		dropsTotal.WithLabelValues("malformed").Inc()
		return
	}

	rep := dispatch(s.cache, req)
	requestsTotal.WithLabelValues(string(req.Type), string(rep.Status)).Inc()

	out, err := encodeReply(s.cfg.HMACKey, salt, rep)
	if err != nil {
		log.Error("confd: encoding reply to %s failed: %v", addr, err)
		return
	}

	select {
	case <-hctx.Done():
		log.Warn("confd: handler for %s timed out before replying", addr)
		return
	default:
	}

	if _, err := s.conn.WriteTo(out, addr); err != nil {
		log.Warn("confd: replying to %s failed: %v", addr, err)
	}
}

func dropReason(err error) string {
	switch errors.Cause(err) {
	case ErrBadMagic:
		return "bad_magic"
	case ErrBadHMAC:
		return "bad_hmac"
	case ErrSaltSkew:
		return "salt_skew"
	default:
		return "malformed"
	}
}
