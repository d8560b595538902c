package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagEnableIPv6  bool
	flagSTUNAddress string
	flagTURNAddress string
	flagTURNUser    string
	flagTURNPass    string
	flagControlling bool
	flagMid         string
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.BoolVarP(&flagEnableIPv6, "enable-ipv6", "6", false, "Permit use of IPv6")
	flag.StringVarP(&flagSTUNAddress, "stun-address", "s", "stun.l.google.com:19302", "STUN server address")
	flag.StringVarP(&flagTURNAddress, "turn-address", "t", "", "TURN server address")
	flag.StringVarP(&flagTURNUser, "turn-username", "u", "", "TURN username")
	flag.StringVarP(&flagTURNPass, "turn-password", "p", "", "TURN password")
	flag.BoolVarP(&flagControlling, "controlling", "c", true, "Start in the controlling role")
	flag.StringVarP(&flagMid, "mid", "m", "0", "Media stream identification tag for the single stream this session negotiates")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `ICE/STUN/TURN connectivity establishment over a line-based peering protocol

Usage: goiced [OPTION]...

Gathers local candidates, prints them as SDP a=candidate lines on stdout, and
reads the peer's candidate lines from stdin (one per line, terminated by a
blank line). After that, goiced logs the size and source of every datagram
it receives on component 1; it does not send anything back to the peer.

Network:
  -6, --enable-ipv6        Permit use of IPv6 (default: disabled)
  -s, --stun-address=URI   STUN server address (default: stun.l.google.com:19302)
  -t, --turn-address=URI   TURN server address (default: none)
  -u, --turn-username=USER TURN username
  -p, --turn-password=PASS TURN password
  -c, --controlling        Start in the controlling role (default: true)
  -m, --mid=TAG            Media stream identification tag (default: 0)

Miscellaneous:
  -h, --help               Prints this help message and exits
  -v, --version            Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

func help() {
	b := color.New(color.FgCyan)
	y := color.New(color.FgYellow)
	b.Printf("go")
	y.Println("iced")
	fmt.Println(helpString)
}
