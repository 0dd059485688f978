// Command knxtunnel-demo opens a tunnel connection to a KNXnet/IP gateway
// and prints every group event it observes. When -poll names a group
// address, it also sends a periodic GroupValueRead to demonstrate an
// outbound request.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/knxtunnel/knxtunnel"
)

func main() {
	gatewayHost := flag.String("host", "224.0.23.12", "KNXnet/IP gateway host")
	gatewayPort := flag.Int("port", 3671, "KNXnet/IP gateway port")
	localPort := flag.Int("local-port", 0, "local UDP port (0 = any)")
	pollAddress := flag.String("poll", "", "group address to GroupValueRead every 30s, e.g. 1/2/3")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *gatewayHost, *gatewayPort, *localPort, *pollAddress); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, host string, port, localPort int, pollAddress string) error {
	gatewayAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	localAddr := &net.UDPAddr{Port: localPort}

	conn, err := net.DialUDP("udp4", localAddr, gatewayAddr)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()

	bound, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	localHPAI := knxtunnel.NewHPAI(bound.IP, uint16(bound.Port))

	var poll *knxtunnel.GroupAddress3
	if pollAddress != "" {
		ga, err := knxtunnel.ParseGroupAddress3(pollAddress)
		if err != nil {
			return fmt.Errorf("invalid poll address: %w", err)
		}
		poll = &ga
	}

	tunnel := knxtunnel.NewTunnelConnection(time.Now(), localHPAI, knxtunnel.DefaultConfig())
	fmt.Printf("connecting to %s:%d from %s\n", host, port, conn.LocalAddr())

	inbound := make(chan []byte, 16)
	readErrs := make(chan error, 1)
	go readLoop(ctx, conn, inbound, readErrs)

	nextPoll := time.Now().Add(30 * time.Second)

	for {
		now := time.Now()
		if data, ok := tunnel.GetOutboundData(now); ok {
			if _, err := conn.Write(data); err != nil {
				fmt.Fprintf(os.Stderr, "write error: %v\n", err)
			}
			continue
		}

		if poll != nil && tunnel.Connected() && !now.Before(nextPoll) {
			tunnel.Send(now, knxtunnel.GroupEvent{Address: poll.ToUint16(), Type: knxtunnel.EventRead, Value: &knxtunnel.Unit{}})
			nextPoll = now.Add(30 * time.Second)
		}

		deadline := tunnel.GetNextTimeEvent()
		if poll != nil && nextPoll.Before(deadline) {
			deadline = nextPoll
		}
		timer := time.NewTimer(time.Until(deadline))

		select {
		case <-ctx.Done():
			timer.Stop()
			fmt.Println("shutdown requested")
			return nil
		case err := <-readErrs:
			timer.Stop()
			return fmt.Errorf("reading from gateway: %w", err)
		case data := <-inbound:
			timer.Stop()
			if event := tunnel.HandleInboundMessage(time.Now(), data); event != nil {
				ga := knxtunnel.GroupAddress3FromUint16(event.Address)
				fmt.Printf("%-8s %-10s %v\n", ga.String(), event.Type, event.Value)
			}
		case <-timer.C:
			if err := tunnel.HandleTimeEvents(time.Now()); err != nil {
				return fmt.Errorf("tunnel: %w", err)
			}
		}
	}
}

func readLoop(ctx context.Context, conn *net.UDPConn, out chan<- []byte, errs chan<- error) {
	buf := make([]byte, 2048)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}
