package segmenter

import (
	"bufio"
	"errors"
	"os"

	"github.com/livepeer/joy4/av"
	"github.com/livepeer/joy4/format/ts"
	pkgerrors "github.com/pkg/errors"

	"github.com/livepeer/livehls/segname"
)

var ErrNoSegment = errors.New("No Segment Open")
var ErrSegmentOpen = errors.New("Segment Already Open")

// SegmentMuxer writes one segment file at a time. Open starts a segment at
// path, Close finalizes it and makes it visible under that path.
type SegmentMuxer interface {
	Open(path string, streams []av.CodecData) error
	WritePacket(pkt av.Packet) error
	Close() error
}

// TSMuxer writes MPEG-TS segments. Each segment is written under a
// temporary name and renamed into place on Close.
type TSMuxer struct {
	file  *os.File
	buf   *bufio.Writer
	mux   *ts.Muxer
	tmp   string
	final string
}

func NewTSMuxer() *TSMuxer {
	return &TSMuxer{}
}

func (m *TSMuxer) Open(path string, streams []av.CodecData) error {
	if m.file != nil {
		return ErrSegmentOpen
	}
	if err := segname.MkFilePath(path); err != nil {
		return err
	}
	tmp := segname.TempName(path)
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "create %s", tmp)
	}
	buf := bufio.NewWriter(file)
	mux := ts.NewMuxer(buf)
	if err := mux.WriteHeader(streams); err != nil {
		file.Close()
		os.Remove(tmp)
		return pkgerrors.Wrap(err, "ts header")
	}
	m.file, m.buf, m.mux = file, buf, mux
	m.tmp, m.final = tmp, path
	return nil
}

func (m *TSMuxer) WritePacket(pkt av.Packet) error {
	if m.mux == nil {
		return ErrNoSegment
	}
	return m.mux.WritePacket(pkt)
}

func (m *TSMuxer) Close() error {
	if m.file == nil {
		return ErrNoSegment
	}
	file, tmp, final := m.file, m.tmp, m.final
	err := m.mux.WriteTrailer()
	if err == nil {
		err = m.buf.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	m.file, m.buf, m.mux = nil, nil, nil

	if err != nil {
		os.Remove(tmp)
		return pkgerrors.Wrapf(err, "finish %s", final)
	}
	return segname.Publish(tmp, final)
}
