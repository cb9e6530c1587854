package capture

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gopacket/gopacket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const (
	defaultBlockNumbers = 32

	// DefaultSyscalls on Linux the mmap ring buffer is the preferred read
	// path; plain recvfrom is the fallback.
	DefaultSyscalls = false
)

// Handle is an open AF_PACKET capture socket. Reads block until a frame
// arrives, the configured timeout lapses, or the handle's context is
// canceled. Close is safe from another goroutine and wakes blocked readers.
type Handle struct {
	ctx         context.Context
	syscalls    bool
	closeOnce   sync.Once
	closed      atomic.Bool
	promiscuous bool
	timeout     time.Duration
	index       int
	snaplen     int32
	fd          int

	// wake pipe: written on context cancellation or Close so a blocked
	// poll returns without waiting out its timeout
	wakeR, wakeW int
	done         chan struct{}

	// TPACKET_V1 rx ring state
	ring           []byte
	framePtr       int
	frameIndex     uint32
	framesPerBlock uint32
	frameSize      uint32
	frameNumbers   uint32
	blockSize      uint32
}

func (h *Handle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	if h.closed.Load() {
		return nil, ci, io.EOF
	}
	if h.syscalls {
		return h.readPacketDataSyscall()
	}
	return h.readPacketDataMmap()
}

func (h *Handle) readPacketDataSyscall() (data []byte, ci gopacket.CaptureInfo, err error) {
	if err := h.waitReadable(); err != nil {
		return nil, ci, err
	}
	b := make([]byte, h.snaplen)
	read, from, err := unix.Recvfrom(h.fd, b, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN {
			// spurious poll wakeup
			return nil, ci, context.DeadlineExceeded
		}
		if h.closed.Load() {
			return nil, ci, io.EOF
		}
		return nil, ci, fmt.Errorf("error reading: %v", err)
	}
	// TODO: use SO_TIMESTAMPNS so ci carries the kernel receive timestamp
	// instead of the user-space read time
	ci = gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  read,
		Length:         read,
		InterfaceIndex: h.index,
	}
	if sall, ok := from.(*unix.SockaddrLinklayer); ok {
		ci.InterfaceIndex = sall.Ifindex
	}
	return b[:read], ci, nil
}

func (h *Handle) readPacketDataMmap() (data []byte, ci gopacket.CaptureInfo, err error) {
	for {
		hdr := (*unix.TpacketHdr)(unsafe.Pointer(&h.ring[h.framePtr]))
		if hdr.Status&unix.TP_STATUS_USER == 0 {
			if err := h.waitReadable(); err != nil {
				return nil, ci, err
			}
			continue
		}

		// copy the frame out of the ring before the slot goes back to the
		// kernel
		start := h.framePtr + int(hdr.Mac)
		data = make([]byte, hdr.Snaplen)
		copy(data, h.ring[start:start+int(hdr.Snaplen)])
		ci = gopacket.CaptureInfo{
			Timestamp:      time.Unix(int64(hdr.Sec), int64(hdr.Usec)*1000),
			CaptureLength:  int(hdr.Snaplen),
			Length:         int(hdr.Len),
			InterfaceIndex: h.index,
		}
		hdr.Status = unix.TP_STATUS_KERNEL

		// advance to the next frame slot, wrapping at the end of the ring
		h.frameIndex = (h.frameIndex + 1) % h.frameNumbers
		blockIndex := h.frameIndex / h.framesPerBlock
		frameInBlock := h.frameIndex % h.framesPerBlock
		h.framePtr = int(blockIndex*h.blockSize + frameInBlock*h.frameSize)

		return data, ci, nil
	}
}

// waitReadable polls the socket alongside the wake pipe. It returns nil when
// the socket has data, context.DeadlineExceeded on a poll timeout,
// context.Canceled when the handle's context was canceled, and io.EOF once
// the handle is closed or its context deadline passed. A context deadline is
// the end of the capture window, not an idle interval, so it must not be
// reported as DeadlineExceeded.
func (h *Handle) waitReadable() error {
	pfd := []unix.PollFd{
		{Fd: int32(h.fd), Events: unix.POLLIN},
		{Fd: int32(h.wakeR), Events: unix.POLLIN},
	}
	ms := -1
	if h.timeout > 0 {
		ms = int(h.timeout.Milliseconds())
	}
	n, err := unix.Poll(pfd, ms)
	if err != nil {
		if err == unix.EINTR {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("error polling socket: %v", err)
	}
	if h.closed.Load() {
		return io.EOF
	}
	if n == 0 {
		return context.DeadlineExceeded
	}
	if pfd[1].Revents&unix.POLLIN != 0 {
		if h.ctx.Err() == context.Canceled {
			return context.Canceled
		}
		return io.EOF
	}
	return nil
}

// Close releases the socket, the ring mapping and the wake pipe, and drops
// promiscuous membership if it was requested. Idempotent; blocked readers
// return io.EOF.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		// wake any poller before tearing the fds down
		_, _ = unix.Write(h.wakeW, []byte{1})
		if h.promiscuous && h.index != 0 {
			mreq := unix.PacketMreq{
				Ifindex: int32(h.index),
				Type:    unix.PACKET_MR_PROMISC,
			}
			_ = unix.SetsockoptPacketMreq(h.fd, unix.SOL_PACKET, unix.PACKET_DROP_MEMBERSHIP, &mreq)
		}
		if h.ring != nil {
			_ = unix.Munmap(h.ring)
			h.ring = nil
		}
		_ = unix.Close(h.fd)
	})
}

// SetRawFilter attaches an already-assembled classic BPF program to the
// socket. Assembling or compiling filter expressions is the caller's
// concern; an empty program is a no-op.
func (h *Handle) SetRawFilter(filter []bpf.RawInstruction) error {
	if len(filter) == 0 {
		return nil
	}
	prog := make([]unix.SockFilter, len(filter))
	for i, ins := range filter {
		prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
	if err := unix.SetsockoptSockFprog(h.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("failed to attach filter: %v", err)
	}
	return nil
}

// LinkType return the link type, compliant with pcap-linktype(7) and
// http://www.tcpdump.org/linktypes.html. AF_PACKET delivers Ethernet frames.
func (h *Handle) LinkType() uint32 {
	return LinkTypeEthernet
}

func tpacketAlign(base int32) int32 {
	return (base + unix.TPACKET_ALIGNMENT - 1) &^ (unix.TPACKET_ALIGNMENT - 1)
}

func openLive(ctx context.Context, iface string, snaplen int32, promiscuous bool, timeout time.Duration, syscalls bool) (handle *Handle, _ error) {
	logger := log.WithFields(log.Fields{
		"iface":       iface,
		"snaplen":     snaplen,
		"promiscuous": promiscuous,
		"timeout":     timeout,
		"syscalls":    syscalls,
	})
	logger.Debug("opening AF_PACKET socket")
	h := Handle{
		ctx:      ctx,
		snaplen:  snaplen,
		timeout:  timeout,
		syscalls: syscalls,
		done:     make(chan struct{}),
	}
	// set up the socket - remember to switch to network order for the protocol
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed opening raw socket: %v", err)
	}
	h.fd = fd
	if iface != "" {
		in, err := net.InterfaceByName(iface)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("unknown interface %s: %v", iface, err)
		}
		h.index = in.Index

		sa := unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_ALL),
			Ifindex:  in.Index,
		}
		if err = unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to bind to %s: %v", iface, err)
		}
		if promiscuous {
			h.promiscuous = true
			mreq := unix.PacketMreq{
				Ifindex: int32(in.Index),
				Type:    unix.PACKET_MR_PROMISC,
			}
			if err = unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("failed to set promiscuous for %s: %v", iface, err)
			}
		}
	}

	var pipefd [2]int
	if err := unix.Pipe(pipefd[:]); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %v", err)
	}
	h.wakeR, h.wakeW = pipefd[0], pipefd[1]
	_ = unix.SetNonblock(h.wakeR, true)
	_ = unix.SetNonblock(h.wakeW, true)
	go func() {
		select {
		case <-ctx.Done():
			_, _ = unix.Write(h.wakeW, []byte{1})
		case <-h.done:
		}
	}()

	if !syscalls {
		if err = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V1); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to set TPACKET_V1: %v", err)
		}
		// size the ring: each frame slot holds the tpacket header plus a
		// full snaplen, and blocks are a power-of-two multiple of page size
		var (
			frameSize           = uint32(tpacketAlign(unix.TPACKET_HDRLEN+unix.SizeofSockaddrLinklayer) + tpacketAlign(snaplen))
			blockSize           = uint32(unix.Getpagesize())
			blockNumbers uint32 = defaultBlockNumbers
		)
		for blockSize < frameSize {
			blockSize <<= 1
		}
		framesPerBlock := blockSize / frameSize
		frameNumbers := blockNumbers * framesPerBlock

		tpreq := unix.TpacketReq{
			Block_size: blockSize,
			Block_nr:   blockNumbers,
			Frame_size: frameSize,
			Frame_nr:   frameNumbers,
		}
		if err = unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &tpreq); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to set tpacket req: %v", err)
		}
		totalSize := int(tpreq.Block_size * tpreq.Block_nr)
		data, err := unix.Mmap(fd, 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("error mmapping: %v", err)
		}
		h.framesPerBlock = framesPerBlock
		h.blockSize = blockSize
		h.frameSize = frameSize
		h.frameNumbers = frameNumbers
		h.ring = data
	}
	logger.Debug("socket ready")
	return &h, nil
}
