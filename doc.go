package dissect

/*
 Package dissect decodes raw captured link-layer frames one layer at a time:
 Ethernet -> IPv4/IPv6 -> TCP/UDP/ICMP. Every decoder works over a
 bounds-checked Cursor, so a frame shorter than its headers claim can never
 cause an out-of-range read; it produces a typed per-frame outcome instead.

 The package is a pure in-memory decoding library. Opening sockets and
 reading frames off the wire lives in the capture package; pulling frames
 through a dispatcher and into a sink lives in the loop package.
*/
