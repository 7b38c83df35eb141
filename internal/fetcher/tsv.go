package fetcher

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// imdbNull is the token IMDb datasets use for absent values.
const imdbNull = `\N`

// TSVOptions configures the streaming TSV parser.
type TSVOptions struct {
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	NullToSkip bool            // translate \N to "" (IMDb convention)
}

// StreamTSV reads tab-separated rows and sends them to a channel. IMDb dumps
// are not quote-escaped, so this splits on tabs directly rather than going
// through encoding/csv. Caller must consume the returned row channel; both
// channels close when processing completes.
func StreamTSV(ctx context.Context, r io.Reader, opts TSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		// Some biography lines run long; give the scanner room.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		first := true
		for scanner.Scan() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}

			record := strings.Split(scanner.Text(), "\t")
			if opts.NullToSkip {
				for i, field := range record {
					if field == imdbNull {
						record[i] = ""
					}
				}
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrap(err, "tsv: read row")
		}
	}()

	return rowCh, errCh
}

// Gunzip wraps r in a gzip reader. The returned closer closes both the gzip
// stream and, when r is closeable, the underlying reader.
func Gunzip(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "gunzip: open stream")
	}
	return &gunzipCloser{gz: gz, inner: r}, nil
}

type gunzipCloser struct {
	gz    *gzip.Reader
	inner io.Reader
}

func (g *gunzipCloser) Read(p []byte) (int, error) {
	return g.gz.Read(p)
}

func (g *gunzipCloser) Close() error {
	err := g.gz.Close()
	if c, ok := g.inner.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
