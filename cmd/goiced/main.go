package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/goice/ice"
	"github.com/lanikai/goice/stun"
)

const version = "goiced 0.1.0"

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)

	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())

	role := ice.Controlled
	if flagControlling {
		role = ice.Controlling
	}
	agent := ice.NewAgent(role, cm, txns)
	defer agent.Close()

	localUfrag, localPassword := agent.LocalCredentials()
	fmt.Printf("a=ice-ufrag:%s\na=ice-pwd:%s\n", localUfrag, localPassword)

	stream := agent.AddStream(flagMid)
	component := 1

	agent.OnSelected(func(mid string, comp int, pair *ice.CandidatePair) {
		log.Printf("stream %s component %d selected pair: %s", mid, comp, pair)
	})

	harvesters := []ice.Harvester{
		&ice.HostHarvester{Cfg: ice.HarvesterConfig{EnableIPv6: flagEnableIPv6}},
		&ice.StunHarvester{ServerAddr: flagSTUNAddress},
	}
	if flagTURNAddress != "" {
		harvesters = append(harvesters, &ice.TurnHarvester{
			ServerAddr: flagTURNAddress,
			Username:   flagTURNUser,
			Password:   flagTURNPass,
		})
	}

	go ice.ParallelHarvest(agent, stream, []int{component}, harvesters, func(c ice.Candidate) {
		fmt.Println("a=" + ice.EncodeCandidateSDP(c))
	})

	fmt.Fprintln(os.Stderr, "Paste the remote peer's a=ice-ufrag, a=ice-pwd, and a=candidate lines, then a blank line:")
	readRemoteDescription(agent, flagMid)

	go echoComponentData(stream, component)

	select {}
}

func readRemoteDescription(agent *ice.Agent, mid string) {
	scanner := bufio.NewScanner(os.Stdin)
	var ufrag, password string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		switch {
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			ufrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			password = strings.TrimPrefix(line, "a=ice-pwd:")
		case strings.HasPrefix(line, "a=candidate:"):
			c, err := ice.ParseCandidateSDP(strings.TrimPrefix(line, "a="))
			if err != nil {
				log.Printf("skipping malformed candidate line %q: %v", line, err)
				continue
			}
			agent.AddRemoteCandidate(mid, c)
		}
	}
	if ufrag != "" {
		agent.SetRemoteCredentials(mid, ufrag, password)
	}
}

// echoComponentData logs every datagram received on component, so two
// goiced instances can be used to smoke-test end-to-end connectivity
// without a media stack.
func echoComponentData(s *ice.Stream, component int) {
	for pkt := range s.ComponentData(component) {
		log.Printf("received %d bytes from %s", len(pkt.Bytes), pkt.RemoteAddr)
	}
}
