//go:build darwin || freebsd

package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
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
	enable = 1

	// DefaultSyscalls BSD has no packet mmap; reads always go through the
	// bpf device.
	DefaultSyscalls = true
)

// Handle is an open /dev/bpf capture device. Reads block until a frame
// arrives, the configured timeout lapses, or the handle's context is
// canceled. Close is safe from another goroutine and wakes blocked readers.
type Handle struct {
	ctx       context.Context
	syscalls  bool
	closeOnce sync.Once
	closed    atomic.Bool
	timeout   time.Duration
	index     int
	snaplen   int32
	fd        int
	buf       []byte
	endian    binary.ByteOrder
	linkType  uint32

	// wake pipe: written on context cancellation or Close so a blocked
	// poll returns without waiting out its timeout
	wakeR, wakeW int
	done         chan struct{}
}

// BpfProgram mirrors struct bpf_program for the BIOCSETF ioctl.
type BpfProgram struct {
	Len    uint32
	Filter *bpf.RawInstruction
}

func (h *Handle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	if h.closed.Load() {
		return nil, ci, io.EOF
	}
	if err := h.waitReadable(); err != nil {
		return nil, ci, err
	}

	// must memset the buffer
	h.buf = make([]byte, len(h.buf))
	read, err := unix.Read(h.fd, h.buf)
	if err != nil {
		if h.closed.Load() {
			return nil, ci, io.EOF
		}
		return nil, ci, fmt.Errorf("error reading: %v", err)
	}
	if read <= 0 {
		return nil, ci, context.DeadlineExceeded
	}
	// separate the bpf header and the frame body
	hdr := unix.BpfHdr{}
	buf := bytes.NewBuffer(h.buf[:unix.SizeofBpfHdr])
	if err = binary.Read(buf, h.endian, &hdr); err != nil {
		return nil, ci, fmt.Errorf("error reading bpf header: %v", err)
	}
	ci = gopacket.CaptureInfo{
		Timestamp:      time.Unix(int64(hdr.Tstamp.Sec), int64(hdr.Tstamp.Usec)*1000),
		CaptureLength:  int(hdr.Caplen),
		Length:         int(hdr.Datalen),
		InterfaceIndex: h.index,
	}
	return h.buf[hdr.Hdrlen : uint32(hdr.Hdrlen)+hdr.Caplen], ci, nil
}

// waitReadable polls the device alongside the wake pipe. It returns nil when
// the device has data, context.DeadlineExceeded on a poll timeout,
// context.Canceled when the handle's context was canceled, and io.EOF once
// the handle is closed or its context deadline passed.
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
		return fmt.Errorf("error polling device: %v", err)
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

// Close releases the device and the wake pipe. Idempotent; blocked readers
// return io.EOF.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		_, _ = unix.Write(h.wakeW, []byte{1})
		_ = unix.Close(h.fd)
	})
}

// SetRawFilter attaches an already-assembled classic BPF program to the
// device via BIOCSETF. Assembling or compiling filter expressions is the
// caller's concern; an empty program is a no-op.
func (h *Handle) SetRawFilter(filter []bpf.RawInstruction) error {
	if len(filter) == 0 {
		return nil
	}
	prog := BpfProgram{
		Len:    uint32(len(filter)),
		Filter: (*bpf.RawInstruction)(unsafe.Pointer(&filter[0])),
	}
	if err := ioctlPtr(h.fd, unix.BIOCSETF, unsafe.Pointer(&prog)); err != nil {
		return fmt.Errorf("unable to set filter: %v", err)
	}
	return nil
}

func openLive(ctx context.Context, iface string, snaplen int32, promiscuous bool, timeout time.Duration, syscalls bool) (handle *Handle, _ error) {
	var (
		fd  = -1
		err error
	)
	logger := log.WithFields(log.Fields{
		"iface":       iface,
		"snaplen":     snaplen,
		"promiscuous": promiscuous,
		"timeout":     timeout,
		"syscalls":    syscalls,
	})
	logger.Debug("opening bpf device")
	h := Handle{
		ctx:      ctx,
		snaplen:  snaplen,
		timeout:  timeout,
		syscalls: syscalls,
		done:     make(chan struct{}),
	}
	// we need to know our endianness to read bpf headers
	endianness, err := getEndianness()
	if err != nil {
		return nil, err
	}
	h.endian = endianness

	// open the first free bpf device
	for i := 0; i < 255; i++ {
		dev := fmt.Sprintf("/dev/bpf%d", i)
		fd, err = unix.Open(dev, unix.O_RDWR, 0000)
		if fd > -1 {
			break
		}
		if err != nil && err == unix.EBUSY {
			continue
		}
		return nil, fmt.Errorf("error opening device %s: %v", dev, err)
	}
	if fd <= -1 {
		return nil, errors.New("failed to get valid bpf device")
	}
	h.fd = fd

	if err = setBpfInterface(fd, iface); err != nil {
		return nil, fmt.Errorf("failed to set the BPF interface: %v", err)
	}
	if err = setBpfHeadercmpl(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF header complete option: %v", err)
	}
	if promiscuous {
		if err = setBpfPromisc(fd); err != nil {
			return nil, fmt.Errorf("failed to set promiscuous mode: %v", err)
		}
	}
	if err = setBpfMonitor(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF monitor option: %v", err)
	}
	if err = setBpfImmediate(fd, enable); err != nil {
		return nil, fmt.Errorf("failed to set the BPF immediate return option: %v", err)
	}
	size, err := bpfBuflen(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer length: %v", err)
	}
	h.buf = make([]byte, size)

	linkType, err := getLinkType(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to get link type: %v", err)
	}
	h.linkType = linkType

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

	logger.Debug("device ready")
	return &h, nil
}

// because the syscall package deprecated these without replacement, roll the
// ioctls by hand over golang.org/x/sys/unix.

type ivalue struct {
	name  [unix.IFNAMSIZ]byte
	value int16
}

func setBpfInterface(fd int, name string) error {
	var iv ivalue
	copy(iv.name[:], []byte(name))
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&iv))
}

func setBpfHeadercmpl(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSHDRCMPLT, m)
}

func setBpfImmediate(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, m)
}

func setBpfMonitor(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSSEESENT, m)
}

func setBpfPromisc(fd int) error {
	return unix.IoctlSetInt(fd, unix.BIOCPROMISC, 0)
}

func bpfBuflen(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.BIOCGBLEN)
}

func ioctlPtr(fd, arg int, valPtr unsafe.Pointer) error {
	//nolint:staticcheck // unix.SYS_IOCTL is deprecated, but golang does not provide a better alternative
	// as of this writing for passing pointers
	_, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), uintptr(arg), uintptr(valPtr))
	if errno != 0 {
		return fmt.Errorf("error: %d", errno)
	}
	return nil
}

func getLinkType(fd int) (uint32, error) {
	linkType, err := unix.IoctlGetInt(fd, unix.BIOCGDLT)
	if err != nil {
		return 0xffffffff, fmt.Errorf("failed to get link type: %v", err)
	}
	return uint32(linkType), nil
}

// LinkType return the link type, compliant with pcap-linktype(7) and
// http://www.tcpdump.org/linktypes.html.
func (h *Handle) LinkType() uint32 {
	return h.linkType
}
