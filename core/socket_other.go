//go:build !unix

package core

import (
	"context"
	"net"
)

func listen(o Options) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", o.Addr)
}
