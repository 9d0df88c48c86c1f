// livehls segments a live RTMP publish, or a media file, into HLS outputs.
//
//	livehls -config livehls.yaml
//	ffmpeg -re -i bunny.mp4 -c copy -f flv rtmp://localhost/movie
//
//	livehls -config livehls.yaml -in bunny.flv
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/livepeer/joy4/av/avutil"
	"github.com/livepeer/joy4/format"
	joy4rtmp "github.com/livepeer/joy4/format/rtmp"

	"github.com/livepeer/livehls/common"
	"github.com/livepeer/livehls/core"
	"github.com/livepeer/livehls/metrics"
	"github.com/livepeer/livehls/vidlistener"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Set("logtostderr", "true")
	confPath := flag.String("config", "livehls.yaml", "YAML config file")
	envPath := flag.String("env", ".env", "file of KEY=value environment overrides")
	in := flag.String("in", "", "segment this file instead of listening for RTMP")
	flag.Parse()
	defer glog.Flush()

	if err := common.LoadEnv(*envPath); err != nil {
		glog.Fatalf("Cannot read %v: %v", *envPath, err)
	}
	conf, err := common.Load(*confPath)
	if err != nil {
		glog.Fatalf("Cannot load config: %v", err)
	}
	format.RegisterAll()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	met := metrics.New()
	pipeline := core.NewPipeline(conf, met)

	if *in != "" {
		if err := segmentFile(ctx, pipeline, *in); err != nil && err != context.Canceled {
			glog.Fatalf("Segmenting %v: %v", *in, err)
		}
		return
	}

	listener := &vidlistener.VidListener{
		RtmpServer: &joy4rtmp.Server{Addr: conf.RTMPAddr},
		Metrics:    met,
	}
	listener.HandleRTMPPublish(ctx, pipeline)

	r := chi.NewRouter()
	r.Handle("/metrics", met.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/active", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listener.Active()))
	})
	srv := &http.Server{Addr: conf.OpsAddr, Handler: r}

	go func() {
		glog.Infof("Ops server listening on %v", conf.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("Ops server: %v", err)
		}
	}()
	go func() {
		glog.Infof("RTMP server listening on %v", conf.RTMPAddr)
		if err := listener.RtmpServer.ListenAndServe(); err != nil {
			glog.Fatalf("RTMP server: %v", err)
		}
	}()

	<-ctx.Done()
	glog.Infof("Shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		glog.Errorf("Ops server shutdown: %v", err)
	}
}

func segmentFile(ctx context.Context, p *core.Pipeline, path string) error {
	src, err := avutil.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p.Run(ctx, id, src)
}
