package capture

/*
 Package capture reads raw link-layer frames off the wire without libpcap.

 MacOS and the BSDs use a /dev/bpf* device instead of a raw socket. Some good examples:
  https://github.com/c-bata/xpcap/blob/master/sniffer.c#L50
  https://gist.github.com/2opremio/6fda363ab384b0d85347956fb79a3927
 Linux uses a raw AF_PACKET socket.
  Canonical reference is at https://www.kernel.org/doc/Documentation/networking/packet_mmap.txt
  For syscall-based capture: see http://www.microhowto.info/howto/capture_ethernet_frames_using_an_af_packet_socket_in_c.html
  For mmap-based capture: see http://www.microhowto.info/howto/capture_ethernet_frames_using_an_af_packet_ring_buffer_in_c.html

 The Handle owns its socket or device for the life of the capture and
 releases it on Close, on every path. Decoding what the frames contain is
 someone else's job; see the dissect package.
*/
