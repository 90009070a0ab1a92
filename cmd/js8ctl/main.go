package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/js8emu/pkg/client"
	"github.com/dougsko/js8emu/pkg/protocol"
)

var (
	addr     = flag.String("addr", "127.0.0.1:2442", "JS8Call API address (host:port)")
	timeout  = flag.Duration("timeout", client.DefaultTimeout, "Connect and reply timeout")
	duration = flag.Duration("listen", 0, "How long 'listen' runs (0 means until interrupted)")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		showHelp()
		return
	}

	c, err := client.Dial(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := runCommand(c, strings.ToLower(args[0]), args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "callsign":
		callsign, err := c.GetCallsign()
		if err != nil {
			return err
		}
		fmt.Println(callsign)

	case "freq":
		f, err := c.GetFrequency()
		if err != nil {
			return err
		}
		printFrequency(f)

	case "setfreq":
		if len(args) != 1 {
			return errors.New("usage: setfreq <dial>")
		}
		dial, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid dial frequency %q", args[0])
		}
		f, err := c.SetFrequency(dial)
		if err != nil {
			return err
		}
		printFrequency(f)

	case "send":
		if len(args) == 0 {
			return errors.New("usage: send <text>")
		}
		if err := c.SendMessage(strings.Join(args, " ")); err != nil {
			return err
		}
		fmt.Println("queued")

	case "listen":
		return listen(c, *duration)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// listen prints every message until the duration elapses or the server
// closes the connection
func listen(c *client.Client, d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}

	for {
		wait := time.Hour
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil
			}
		}

		msg, err := c.Next(wait)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		line, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		fmt.Print(string(line))
	}
}

func printFrequency(f client.Frequency) {
	fmt.Printf("dial=%d offset=%d freq=%d\n", f.Dial, f.Offset, f.Freq)
}

func showHelp() {
	fmt.Println("js8ctl - JS8Call API Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command> [args]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -addr <host:port>   API address (default: 127.0.0.1:2442)")
	fmt.Println("  -timeout <dur>      Connect and reply timeout (default: 5s)")
	fmt.Println("  -listen <dur>       How long 'listen' runs (default: until interrupted)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  callsign              Get the station callsign")
	fmt.Println("  freq                  Get dial, offset and frequency")
	fmt.Println("  setfreq <dial>        Retune the dial frequency in Hz")
	fmt.Println("  send <text>           Transmit a message")
	fmt.Println("  listen                Print every message received")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s callsign\n", os.Args[0])
	fmt.Printf("  %s -addr 127.0.0.1:2443 setfreq 14078000\n", os.Args[0])
	fmt.Printf("  %s send 'K1ABC hello from js8ctl'\n", os.Args[0])
	fmt.Printf("  %s -listen 60s listen\n", os.Args[0])
}
