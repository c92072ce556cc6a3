package ihost

import (
	"errors"
	"time"

	"github.com/hashicorp/mdns"
)

// mdnsService is the service the hub advertises on the LAN.
const mdnsService = "_ewelink._tcp"

// Discover browses the LAN for a hub and returns the first responder's
// address as a base URL.
func Discover(timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan string, 1)
	go func() {
		for e := range entries {
			if e.AddrV4 != nil {
				select {
				case done <- "http://" + e.AddrV4.String():
				default:
				}
			}
		}
		close(done)
	}()

	params := mdns.DefaultParams(mdnsService)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	if err != nil {
		return "", err
	}
	if addr, ok := <-done; ok && addr != "" {
		return addr, nil
	}
	return "", errors.New("no hub found on the network")
}
