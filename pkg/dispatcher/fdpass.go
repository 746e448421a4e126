package dispatcher

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// SendClientFD passes fd as SCM_RIGHTS ancillary data over conn, with the
// client's address (16-byte form) as the message's regular payload, the
// relay step spec.md §4.3 describes between the
// acceptor and the worker it hands a connection to.
func SendClientFD(conn *net.UnixConn, fd int, clientAddr net.IP) error {
	oob := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix(clientAddr.To16(), oob, nil)
	if err != nil {
		return fmt.Errorf("dispatcher: sending client fd: %w", err)
	}
	return nil
}

// RecvClientFD reads a client fd and address sent by SendClientFD.
func RecvClientFD(conn *net.UnixConn) (fd int, clientAddr net.IP, err error) {
	addrBuf := make([]byte, 16)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(addrBuf, oob)
	if err != nil {
		return -1, nil, fmt.Errorf("dispatcher: receiving client fd: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, nil, fmt.Errorf("dispatcher: parsing control message: %w", err)
	}
	if len(scms) == 0 {
		return -1, nil, fmt.Errorf("dispatcher: no control message received")
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return -1, nil, fmt.Errorf("dispatcher: parsing unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, nil, fmt.Errorf("dispatcher: control message carried no fd")
	}
	return fds[0], net.IP(addrBuf[:n]), nil
}

// fdOf extracts the raw file descriptor underlying conn, valid only for the
// duration of the supplied callback (the contract of syscall.RawConn).
func fdOf(conn net.Conn, fn func(fd int)) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("dispatcher: connection type %T does not expose a raw fd", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(func(fd uintptr) {
		fn(int(fd))
	})
}
