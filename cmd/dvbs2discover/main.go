package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rjboer/GoDVBS2/internal/mdns"
)

func main() {
	timeout := pflag.Duration("timeout", 5*time.Second, "Browse duration")
	pflag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" DVB-S2 receiver discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.local\n", mdns.Service)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	hosts, err := mdns.Discover(ctx)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(hosts) == 0 {
		fmt.Printf("No receivers found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d receiver(s) in %s\n",
		len(hosts), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")
	for i, h := range hosts {
		printHost(os.Stdout, i+1, h)
	}
}

func printHost(w io.Writer, n int, h mdns.Host) {
	fmt.Fprintf(w, " Receiver #%d\n", n)
	fmt.Fprintln(w, "---------------------------------------------------------------")
	fmt.Fprintf(w, " Instance : %s\n", h.Instance)
	fmt.Fprintf(w, " Hostname : %s\n", h.Hostname)
	fmt.Fprintf(w, " Port     : %d\n", h.Port)
	if runID, ok := h.Attr("run_id"); ok {
		fmt.Fprintf(w, " Run ID   : %s\n", runID)
	}
	if modcod, ok := h.Attr("modcod"); ok {
		fmt.Fprintf(w, " MODCOD   : %s\n", modcod)
	}

	fmt.Fprintln(w, " Telemetry:")
	if len(h.Addresses) == 0 {
		fmt.Fprintln(w, "   <none>")
	}
	for _, ip := range h.Addresses {
		fmt.Fprintf(w, "   - http://%s/api/live\n", net.JoinHostPort(ip.String(), fmt.Sprint(h.Port)))
	}
	fmt.Fprintln(w, "===============================================================")
}
