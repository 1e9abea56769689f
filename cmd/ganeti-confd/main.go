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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yiannist/pkg-ganeti-sub001/internal/options"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/clog"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/confcache"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/confd"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/metrics"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/pidfile"
	"github.com/yiannist/pkg-ganeti-sub001/pkg/wire"
)

var log = clog.Get("main")

func main() {
	optsPath := flag.String("config", "", "Path to an optional YAML options file.")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve Prometheus metrics on; empty disables it.")
	debug := flag.Bool("debug", false, "Enable debug logging.")
	flag.Parse()

	if *debug {
		clog.SetLevel(clog.LevelDebug)
	}

	opts, err := options.Load(*optsPath)
	if err != nil {
		log.Fatal("loading options: %v", err)
	}

	pidfile.SetPath(opts.PidFile)
	if err := pidfile.Write(); err != nil {
		log.Warn("writing pid file %s failed: %v", opts.PidFile, err)
	}
	defer pidfile.Remove()

	cache := confcache.New(opts.ConfigPath, opts.MaxFileSize, opts.WatchInterval,
		opts.PollInterval, opts.ReloadRatelimit, opts.MaxIdlePollRounds)
	cache.Reload()
	cache.Start()
	defer cache.Stop()

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr)
	}

	clusterName, primaryIPFamily := readSSConf(opts.DataDir)

	srv, err := confd.NewServer(confd.Config{
		Addr:            fmt.Sprintf(":%d", opts.UDPPort),
		HMACKey:         []byte(opts.HMACKey),
		HMACClockSkew:   opts.HMACClockSkew,
		HandlerTimeout:  opts.HandlerTimeout,
		ClusterName:     clusterName,
		PrimaryIPFamily: primaryIPFamily,
	}, cache)
	if err != nil {
		log.Fatal("starting confd server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdown(cancel)

	if err := srv.Serve(ctx); err != nil {
		log.Fatal("confd server exited: %v", err)
	}
	log.Info("ganeti-confd shut down")
}

// readSSConf resolves the cluster_name and primary_ip_family ssconf
// files out of dataDir. Either is missing on a node that has not
// finished joining a cluster yet; that is not fatal to starting the
// daemon, just logged.
func readSSConf(dataDir string) (clusterName, primaryIPFamily string) {
	clusterName, err := wire.ReadSSConfFile(dataDir, "cluster_name")
	if err != nil {
		log.Warn("reading ssconf cluster_name: %v", err)
	}
	primaryIPFamily, err = wire.ReadSSConfFile(dataDir, "primary_ip_family")
	if err != nil {
		log.Warn("reading ssconf primary_ip_family: %v", err)
	}
	return clusterName, primaryIPFamily
}

func waitForShutdown(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info("received signal %v, shutting down", sig)
	cancel()
}

func serveMetrics(addr string) {
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		log.Error("building metrics gatherer: %v", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server on %s exited: %v", addr, err)
		}
	}()
}
