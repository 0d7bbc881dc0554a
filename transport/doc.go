// Package transport carries client frames over WebSocket.
//
// # Overview
//
// A Conn pumps one client's outbound queue onto the socket and hands every
// inbound text frame to a Handler. Writes happen on a single goroutine
// (frames and keepalive pings); reads happen on another. Either side ending
// closes the connection.
//
// # Usage
//
//	ws, _ := transport.NewUpgrader().Upgrade(w, r, nil)
//	conn := transport.NewConn(ws, client, transport.DefaultConnConfig())
//	conn.Run(ctx, func(ctx context.Context, raw []byte) {
//	    // decode and apply
//	})
package transport
