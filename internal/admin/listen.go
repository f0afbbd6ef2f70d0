package admin

import (
	"net"
	"os"
	"strings"

	"github.com/userfhy/SSLProxyManager-Tauri/internal"
)

// Listen binds the admin API's listener: an address prefixed "unix:" is
// bound as a unix socket at the path that follows, anything else as TCP,
// mirroring admin.go's own address-kind dispatch for DefaultAdminListen.
//
// A unix address may carry permission bits in the "path|bits" form (e.g.
// "unix:/run/proxycore-admin.sock|0660") so the socket can be shared with
// a non-root caller without making it world-writable.
func Listen(addr string) (net.Listener, error) {
	if strings.HasPrefix(addr, "unix:") {
		raw := strings.TrimPrefix(addr, "unix:")
		path, mode, err := internal.SplitUnixSocketPermissionsBits(raw)
		if err != nil {
			return nil, err
		}
		os.Remove(path)
		l, err := net.Listen("unix", path)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(path, mode); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	}
	return net.Listen("tcp", addr)
}
