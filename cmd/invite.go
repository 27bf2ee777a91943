package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// inviteURL is the payload of the invite QR code:
// roomsync://join?server=<ws url>&code=<room code>
func inviteURL(serverURL, code string) string {
	return fmt.Sprintf("roomsync://join?server=%s&code=%s", url.QueryEscape(serverURL), code)
}

// DisplayInvite shows what another person needs to join the room. The
// password is never printed.
func DisplayInvite(w io.Writer, serverURL, code string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  Room created")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Code:    %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintf(w, "  Server:  %s\n", serverURL)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Others join with: roomsync join --server %s %s\n", serverURL, code)
	fmt.Fprintln(w, "  and the room password.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayInviteQR shows the invite as a QR code with a plain-text fallback.
func DisplayInviteQR(w io.Writer, serverURL, code string) {
	qr, err := qrcode.New(inviteURL(serverURL, code), qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayInvite(w, serverURL, code)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO JOIN")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code:    %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintf(w, "  Server:  %s\n", serverURL)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces spaces out a code for reading aloud.
// "AB12CD" -> "A B 1 2 C D"
func FormatCodeWithSpaces(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}

// GetPreferredOutboundIP returns the machine's preferred outbound IPv4
// address, found by asking which local address a UDP "connection" to a
// public IP would use. No packets are sent. Returns "" on failure.
func GetPreferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// tailscaleNet is the CGNAT range used by Tailscale (100.64.0.0/10).
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// GetTailscaleIP returns this machine's Tailscale IPv4 address, or "".
func GetTailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && tailscaleNet.Contains(ip) {
				return ip.String()
			}
		}
	}
	return ""
}

// serverURLs lists the WebSocket URLs a server bound to listenAddr can be
// reached at. A wildcard bind adds the Tailscale and LAN addresses.
func serverURLs(listenAddr string) []string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return []string{"ws://" + listenAddr + "/ws"}
	}
	wsURL := func(h string) string { return "ws://" + net.JoinHostPort(h, port) + "/ws" }

	ip := net.ParseIP(host)
	if host != "" && (ip == nil || !ip.IsUnspecified()) {
		return []string{wsURL(host)}
	}

	urls := []string{wsURL("127.0.0.1")}
	if ip := GetTailscaleIP(); ip != "" {
		urls = append(urls, wsURL(ip))
	}
	if ip := GetPreferredOutboundIP(); ip != "" {
		urls = append(urls, wsURL(ip))
	}
	return urls
}
