package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"
	"unsafe"

	"github.com/gopacket/gopacket"
)

// Frame is a single captured frame delivered over a Listen channel.
type Frame struct {
	B     []byte
	Info  gopacket.CaptureInfo
	Error error
}

// OpenLive opens a live capture on device, or on all interfaces when device
// is empty. The returned Handle implements gopacket.PacketDataSource, so it
// plugs into both loop.New and gopacket.NewPacketSource. Canceling ctx wakes
// any blocked read; timeout > 0 bounds each read, which then reports
// context.DeadlineExceeded when nothing arrived. Frames longer than snaplen
// are truncated by the kernel, never by the reader.
func OpenLive(ctx context.Context, device string, snaplen int32, promiscuous bool, timeout time.Duration, syscalls bool) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return openLive(ctx, device, snaplen, promiscuous, timeout, syscalls)
}

// Listen reads frames into a channel until the handle is closed or its
// context canceled. Poll timeouts are skipped here; they only matter to
// callers driving ReadPacketData themselves.
func (h *Handle) Listen() <-chan Frame {
	c := make(chan Frame, 50)
	go func() {
		defer close(c)
		for {
			b, ci, err := h.ReadPacketData()
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return
			}
			c <- Frame{B: b, Info: ci, Error: err}
			if err != nil {
				return
			}
		}
	}()
	return c
}

// getEndianness discover the endianness of our current system
func getEndianness() (binary.ByteOrder, error) {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		return binary.LittleEndian, nil
	case [2]byte{0xAB, 0xCD}:
		return binary.BigEndian, nil
	default:
		return nil, errors.New("could not determine native endianness")
	}
}

func htons(in uint16) uint16 {
	return (in<<8)&0xff00 | in>>8
}
