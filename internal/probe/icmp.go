package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var echoPayload = []byte("tunnelwatch")

// ICMPPinger sends one echo request over a raw socket.
type ICMPPinger struct {
	id  int
	seq atomic.Uint32
}

func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{id: os.Getpid() & 0xffff}
}

func (p *ICMPPinger) Ping(ctx context.Context, host string, timeout time.Duration) Result {
	fail := func(err error) Result { return Result{Method: "icmp", Err: err} }
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	dst, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return fail(err)
	}
	proto := protocolFor(dst.IP)

	conn, err := icmp.ListenPacket(proto.network, "")
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	wire, err := (&icmp.Message{
		Type: proto.request,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: echoPayload},
	}).Marshal(nil)
	if err != nil {
		return fail(err)
	}
	if err := conn.SetDeadline(deadline(ctx, timeout)); err != nil {
		return fail(err)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return fail(err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fail(fmt.Errorf("no echo reply from %s within %s", host, timeout))
			}
			return fail(err)
		}
		msg, err := icmp.ParseMessage(proto.number, buf[:n])
		if err != nil || msg.Type != proto.reply {
			continue
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			continue
		}
		return Result{Reachable: true, RTT: time.Since(start), Method: "icmp"}
	}
}

type icmpProtocol struct {
	network string
	number  int
	request icmp.Type
	reply   icmp.Type
}

func protocolFor(ip net.IP) icmpProtocol {
	if ip.To4() != nil {
		return icmpProtocol{"ip4:icmp", ipv4.ICMPTypeEcho.Protocol(), ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply}
	}
	return icmpProtocol{"ip6:ipv6-icmp", ipv6.ICMPTypeEchoRequest.Protocol(), ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply}
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
