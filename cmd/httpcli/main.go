// Command httpcli is a small demonstration consumer of the client package:
// it submits one request, polls its progress with a terminal bar, and
// prints the result once the request reaches a terminal lifecycle.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/DavidGamba/go-getoptions"
	ansi "github.com/k0kubun/go-ansi"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/quillhttp/httpcore/client"
)

func main() {
	opt := getoptions.New()

	var url, method, outputPath string
	var body string
	var resumeOverride bool
	var debug bool

	opt.StringVar(&url, "url", "", opt.Alias("u"), opt.Required(),
		opt.Description("URL to request, e.g. https://example.test/file"))
	opt.StringVar(&method, "method", "GET", opt.Alias("m"),
		opt.Description("HTTP method"))
	opt.StringVar(&outputPath, "output", "", opt.Alias("o"),
		opt.Description("write the response body to this file instead of memory"))
	opt.StringVar(&body, "body", "",
		opt.Description("request body for POST"))
	opt.BoolVar(&resumeOverride, "no-resume", false,
		opt.Description("ignore any existing output file instead of resuming it"))
	opt.BoolVar(&debug, "debug", false,
		opt.Description("log client internals to stderr"))

	if _, err := opt.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, opt.Help())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if debug {
		client.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
	}

	m := client.NewManager()
	handle := m.Submit(client.Descriptor{
		URL:        url,
		Method:     method,
		Body:       []byte(body),
		OutputPath: outputPath,
		Override:   resumeOverride,
	})

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
	)

	var lastDownloaded int64
	for !m.IsDone(handle) {
		p := m.Progress(handle)
		if p.Total > 0 {
			bar.ChangeMax64(p.Total)
		}
		if delta := p.Downloaded - lastDownloaded; delta > 0 {
			bar.Add64(delta)
			lastDownloaded = p.Downloaded
		}
		time.Sleep(50 * time.Millisecond)
	}
	bar.Finish()

	res := m.Result(handle)
	m.Shutdown()

	if res.Err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", res.Err)
		os.Exit(1)
	}

	fmt.Printf("status: %d\n", res.StatusCode)
	for name, value := range res.Headers {
		fmt.Printf("%s: %s\n", name, value)
	}
	if outputPath == "" {
		fmt.Printf("\n%s\n", res.Body)
	}
}
