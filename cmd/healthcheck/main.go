// Command healthcheck is the container probe: it exits non-zero unless the
// service answers /readyz (or the path given as the first argument) with 200.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	path := "/readyz"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := probe(context.Background(), probeURL(os.Getenv("HTTP_ADDR"), path)); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

// probeURL turns a listen address like ":8080" into a loopback URL.
func probeURL(addr, path string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

type statusErr int

func (s statusErr) Error() string { return "unexpected status " + http.StatusText(int(s)) }

func probe(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp.StatusCode)
	}
	return nil
}
